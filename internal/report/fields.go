package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/lexpilot/seatwise/internal/llm"
)

// Extractor derives structured case fields from document text, with a
// citation per populated field. Strategies are interchangeable: the regex
// heuristic never guesses, the model-assisted strategy is floored by it.
type Extractor interface {
	Extract(ctx context.Context, docs []DocText) (Fields, error)
}

var (
	seatPhraseRe = regexp.MustCompile(`(?i)\b(?:seat|place)\s+of\s+arbitration\b[^\n\r]{0,120}`)
	govLawRe     = regexp.MustCompile(`(?i)\b(?:governing law|governed by|laws? of)\b[^\n\r]{0,140}`)
	clauseRe     = regexp.MustCompile(`(?is)\barbitration\b.{0,500}`)
	wsRe         = regexp.MustCompile(`\s+`)
)

// Common arbitral institutions recognized by the heuristic strategy.
var institutionKeys = []string{"LCIA", "ICC", "UNCITRAL", "SIAC", "HKIAC", "ICDR", "SCC", "VIAC"}

func cleanWS(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

// findFragments collects cleaned context windows around pattern matches,
// deduplicated, up to maxHits.
func findFragments(text string, pattern *regexp.Regexp, maxHits int) []string {
	var hits []string
	for _, loc := range pattern.FindAllStringIndex(text, -1) {
		start := loc[0] - 140
		if start < 0 {
			start = 0
		}
		end := loc[1] + 140
		if end > len(text) {
			end = len(text)
		}
		frag := cleanWS(text[start:end])
		if frag == "" || containsString(hits, frag) {
			continue
		}
		hits = append(hits, frag)
		if len(hits) >= maxHits {
			break
		}
	}
	return hits
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func combineDocs(docs []DocText) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, fmt.Sprintf("=== %s ===\n%s", d.Name, d.Text))
	}
	return strings.Join(parts, "\n\n")
}

// HeuristicExtractor is the regex fallback strategy. If nothing matches, the
// field stays empty; it never invents a value.
type HeuristicExtractor struct{}

func (HeuristicExtractor) Extract(_ context.Context, docs []DocText) (Fields, error) {
	combined := combineDocs(docs)
	out := Fields{Evidence: map[string][]FieldEvidence{}}

	if hits := findFragments(combined, seatPhraseRe, 3); len(hits) > 0 {
		out.CurrentSeat = hits[0]
		out.Evidence[KeyCurrentSeat] = []FieldEvidence{{Quote: hits[0]}}
	}
	if hits := findFragments(combined, govLawRe, 3); len(hits) > 0 {
		out.GoverningLaw = hits[0]
		out.Evidence[KeyGoverningLaw] = []FieldEvidence{{Quote: hits[0]}}
	}
	for _, key := range institutionKeys {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(key) + `\b`)
		if re.MatchString(combined) {
			out.InstitutionRules = key
			break
		}
	}
	if m := clauseRe.FindString(combined); m != "" {
		clause := cleanWS(m)
		if len(clause) > 1200 {
			clause = cutBytes(clause, 1200)
		}
		out.ArbitrationAgreementText = clause
	}
	return out, nil
}

// LLMExtractor asks the completion service for fields that are explicitly
// present in the source text, with heuristic hints attached. Any failure or
// invalid structure falls back to the heuristic floor; fields never regress
// to absent once the heuristic found something.
type LLMExtractor struct {
	Client    llm.Client
	Logger    *log.Logger
	Heuristic HeuristicExtractor
	// MaxDocChars caps each document's text in the prompt. Zero means 8000.
	MaxDocChars int
}

const extractSystemPrompt = "You are extracting facts from arbitration documents. " +
	"Return ONLY valid JSON. No markdown. No commentary. " +
	"Do not invent names, seats, laws, or institutions."

func (e *LLMExtractor) Extract(ctx context.Context, docs []DocText) (Fields, error) {
	base, _ := e.Heuristic.Extract(ctx, docs)
	if e.Client == nil || !e.Client.Available() {
		return base, nil
	}

	combined := combineDocs(docs)
	maxChars := e.MaxDocChars
	if maxChars <= 0 {
		maxChars = 8000
	}

	type promptDoc struct {
		Name string `json:"name"`
		Text string `json:"text"`
	}
	promptDocs := make([]promptDoc, 0, len(docs))
	for _, d := range docs {
		promptDocs = append(promptDocs, promptDoc{Name: d.Name, Text: snip(d.Text, maxChars)})
	}

	prompt := map[string]interface{}{
		"task": "Extract structured arbitration case details for a seat-of-arbitration analysis report.",
		"rules": []string{
			"Only use information explicitly present in the provided text.",
			"If not present, return null/empty and do NOT guess.",
			"When you populate a field, also include a short evidence quote with page tag if possible.",
		},
		"fields": map[string]string{
			"current_seat":               "string|null",
			"proposed_seats":             "string[] (empty if none)",
			"institution_rules":          "string|null",
			"governing_law":              "string|null",
			"urgency":                    "string|null",
			"parties":                    "string[]",
			"nature_of_dispute":          "string|null",
			"procedural_sensitivities":   "string[]",
			"arbitration_agreement_text": "string|null (quote/excerpt if available)",
			"parties_assets_where":       "string|null",
			"evidence":                   "object mapping field->[{doc, page, quote}]",
		},
		"hints": map[string]interface{}{
			"seat_related_snippets":   findFragments(combined, seatPhraseRe, 12),
			"governing_law_snippets":  findFragments(combined, govLawRe, 12),
			"top_relevant_excerpts":   SelectEvidence(docs, base.CurrentSeat, base.ProposedSeats, 6, 800),
			"heuristic_current_seat":  base.CurrentSeat,
			"heuristic_governing_law": base.GoverningLaw,
		},
		"documents": promptDocs,
	}
	promptJSON, err := json.Marshal(prompt)
	if err != nil {
		return base, nil
	}
	messages := []llm.Message{
		{Role: "system", Content: extractSystemPrompt},
		{Role: "user", Content: string(promptJSON)},
	}

	raw, err := e.Client.Complete(ctx, messages, llm.Options{Temperature: 0, JSONObject: true})
	if err != nil {
		if e.Logger != nil {
			e.Logger.Printf("warn: structured extraction failed, retrying plain: %v", err)
		}
		raw, err = e.Client.Complete(ctx, messages, llm.Options{Temperature: 0})
		if err != nil {
			if e.Logger != nil {
				e.Logger.Printf("warn: extraction call failed, using heuristic floor: %v", err)
			}
			return base, nil
		}
	}

	data, ok := SafeJSONObject(raw)
	if !ok {
		return base, nil
	}
	got := fieldsFromMap(data)
	return mergeFloor(got, base), nil
}

func snip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return cutBytes(s, n) + "\n...[TRUNCATED]..."
}

// fieldsFromMap coerces a loosely-typed model response into Fields. Fields
// declared list-typed are coerced from a bare scalar into a singleton list.
func fieldsFromMap(m map[string]interface{}) Fields {
	out := Fields{
		CurrentSeat:              asString(m[KeyCurrentSeat]),
		ProposedSeats:            asStringList(m[KeyProposedSeats]),
		InstitutionRules:         asString(m[KeyInstitutionRules]),
		GoverningLaw:             asString(m[KeyGoverningLaw]),
		Urgency:                  asString(m[KeyUrgency]),
		Parties:                  asStringList(m[KeyParties]),
		NatureOfDispute:          asString(m[KeyNatureOfDispute]),
		ProceduralSensitivities:  asStringList(m["procedural_sensitivities"]),
		ArbitrationAgreementText: asString(m[KeyAgreementText]),
		PartiesAssetsWhere:       asString(m[KeyPartiesAssetsWhere]),
		Evidence:                 map[string][]FieldEvidence{},
	}
	if rawEv, ok := m["evidence"].(map[string]interface{}); ok {
		for field, entries := range rawEv {
			list, ok := entries.([]interface{})
			if !ok {
				continue
			}
			var evs []FieldEvidence
			for _, entry := range list {
				em, ok := entry.(map[string]interface{})
				if !ok {
					continue
				}
				ev := FieldEvidence{
					Doc:   asString(em["doc"]),
					Quote: asString(em["quote"]),
				}
				if page, ok := em["page"].(float64); ok {
					ev.Page = int(page)
				}
				if ev.Quote != "" {
					evs = append(evs, ev)
				}
			}
			if len(evs) > 0 {
				out.Evidence[field] = evs
			}
		}
	}
	return out
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return ""
	}
}

func asStringList(v interface{}) []string {
	switch list := v.(type) {
	case []interface{}:
		var out []string
		for _, item := range list {
			if s, ok := item.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					out = append(out, trimmed)
				}
			}
		}
		return out
	case []string:
		var out []string
		for _, s := range list {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	case string:
		if trimmed := strings.TrimSpace(list); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	default:
		return nil
	}
}

// mergeFloor keeps the heuristic result wherever the model left a field empty.
func mergeFloor(got, base Fields) Fields {
	if got.CurrentSeat == "" {
		got.CurrentSeat = base.CurrentSeat
	}
	if len(got.ProposedSeats) == 0 {
		got.ProposedSeats = base.ProposedSeats
	}
	if got.InstitutionRules == "" {
		got.InstitutionRules = base.InstitutionRules
	}
	if got.GoverningLaw == "" {
		got.GoverningLaw = base.GoverningLaw
	}
	if got.Urgency == "" {
		got.Urgency = base.Urgency
	}
	if len(got.Parties) == 0 {
		got.Parties = base.Parties
	}
	if got.NatureOfDispute == "" {
		got.NatureOfDispute = base.NatureOfDispute
	}
	if len(got.ProceduralSensitivities) == 0 {
		got.ProceduralSensitivities = base.ProceduralSensitivities
	}
	if got.ArbitrationAgreementText == "" {
		got.ArbitrationAgreementText = base.ArbitrationAgreementText
	}
	if got.PartiesAssetsWhere == "" {
		got.PartiesAssetsWhere = base.PartiesAssetsWhere
	}
	if got.Evidence == nil {
		got.Evidence = map[string][]FieldEvidence{}
	}
	for field, evs := range base.Evidence {
		if _, ok := got.Evidence[field]; !ok {
			got.Evidence[field] = evs
		}
	}
	return got
}

// SafeJSONObject parses a JSON object even if the model wrapped it in extra
// text, by falling back to the first balanced {...} block.
func SafeJSONObject(s string) (map[string]interface{}, bool) {
	s = strings.TrimSpace(s)
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err == nil {
		return m, true
	}
	block, ok := firstBalancedObject(s)
	if !ok {
		return nil, false
	}
	if err := json.Unmarshal([]byte(block), &m); err != nil {
		return nil, false
	}
	return m, true
}

func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// MergeIntoIntake fills intake gaps with extracted values. The merge is
// additive-only: a non-empty intake value is never overwritten. Returns true
// when intake changed.
func MergeIntoIntake(intake map[string]interface{}, extracted Fields) bool {
	changed := false
	setString := func(key, val string) {
		if val != "" && IntakeString(intake, key) == "" {
			intake[key] = val
			changed = true
		}
	}
	setList := func(key string, val []string) {
		if len(val) > 0 && len(IntakeList(intake, key)) == 0 {
			intake[key] = toInterfaceList(val)
			changed = true
		}
	}
	setString(KeyCurrentSeat, extracted.CurrentSeat)
	setList(KeyProposedSeats, extracted.ProposedSeats)
	setString(KeyInstitutionRules, extracted.InstitutionRules)
	setString(KeyGoverningLaw, extracted.GoverningLaw)
	setString(KeyUrgency, extracted.Urgency)
	setString(KeyPartiesAssetsWhere, extracted.PartiesAssetsWhere)
	setString(KeyAgreementText, extracted.ArbitrationAgreementText)
	setList(KeyParties, extracted.Parties)
	setString(KeyNatureOfDispute, extracted.NatureOfDispute)
	return changed
}

func toInterfaceList(list []string) []interface{} {
	out := make([]interface{}, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

package report

import (
	"context"
	"encoding/json"
	"log"

	"github.com/lexpilot/seatwise/internal/llm"
)

// Engine produces the seat-change decision. It never returns an error: model
// and parsing failures always collapse into a structurally valid Decision,
// defaulting toward intervention_required when uncertain.
type Engine struct {
	Client       llm.Client
	Logger       *log.Logger
	MaxPages     int
	ExcerptChars int
}

const decideSystemPrompt = "You are a cautious arbitration decision-support assistant. " +
	"You MUST ground every key claim in the provided sources. " +
	"Return ONLY valid JSON (no markdown, no extra text)."

// Decide combines intake values, extracted fields, and selected evidence into
// a citation-backed recommendation, or an explicit more-information-needed
// result. Precedence: assumption override, missing capability, missing
// evidence, grounded model call.
func (e *Engine) Decide(ctx context.Context, docs []DocText, intake map[string]interface{}, extracted Fields) Decision {
	// Scenario override: an explicit forced seat wins unconditionally, with no
	// citation requirement and no model call. Regeneration under an "assume"
	// message must not re-raise intervention_required.
	overrides := Overrides(intake)
	forced := asString(overrides["preferred_seat"])
	if forced == "" {
		forced = asString(overrides["force_preferred_seat"])
	}
	if forced != "" {
		forced = cleanWS(forced)
		d := Decision{
			ShouldChangeSeat: ChangeYes,
			PreferredSeat:    forced,
			Rationale: []string{
				"Assumption override applied: the user requested a specific preferred seat.",
				"This recommendation is scenario-driven and may not be fully grounded in the uploaded excerpts.",
			},
			JurisdictionNotes: map[string]SeatNotes{
				forced: {
					Pros: []string{"Selected to match the user-provided scenario."},
					Cons: []string{"Grounding evidence may be incomplete for this scenario."},
				},
			},
			AlternativeCircumstances: "If the assumed conditions do not hold, regenerate without the override for a grounded comparison.",
		}
		d.Normalize()
		return d
	}

	currentSeat := firstNonEmpty(IntakeString(intake, KeyCurrentSeat), extracted.CurrentSeat)
	proposedSeats := IntakeList(intake, KeyProposedSeats)
	if len(proposedSeats) == 0 {
		proposedSeats = extracted.ProposedSeats
	}

	// Without a credential no grounded recommendation is possible; an
	// ungrounded guess would be worse than asking for intervention.
	if e.Client == nil || !e.Client.Available() {
		d := Decision{
			ShouldChangeSeat: InterventionNeeded,
			PreferredSeat:    currentSeat,
			Rationale: []string{
				"Decision not generated because the completion service credential is not configured.",
			},
			AlternativeCircumstances: "To be determined.",
			MissingInfo:              []string{"completion_service_credential"},
		}
		if len(proposedSeats) > 0 {
			d.AlternativeSeat = proposedSeats[0]
		}
		d.Normalize()
		return d
	}

	maxPages := e.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxEvidencePages
	}
	evidence := SelectEvidence(docs, currentSeat, proposedSeats, maxPages, e.ExcerptChars)

	// Hard stop: deciding without a single evidence excerpt is guessing.
	if len(evidence) == 0 {
		missing := []string{"extractable_evidence"}
		if currentSeat == "" {
			missing = append(missing, KeyCurrentSeat)
		}
		if len(proposedSeats) == 0 {
			missing = append(missing, KeyProposedSeats)
		}
		d := Decision{
			ShouldChangeSeat: InterventionNeeded,
			PreferredSeat:    currentSeat,
			Rationale: []string{
				"No extractable evidence was found in the uploaded documents for a seat comparison. This conclusion is not evidence-based.",
			},
			AlternativeCircumstances: "Provide proposed seat(s) and an official seat guide / rules text to justify a change.",
			MissingInfo:              missing,
		}
		if len(proposedSeats) > 0 {
			d.AlternativeSeat = proposedSeats[0]
		}
		d.Normalize()
		return d
	}

	return e.decideGrounded(ctx, intake, extracted, currentSeat, proposedSeats, evidence)
}

func (e *Engine) decideGrounded(ctx context.Context, intake map[string]interface{}, extracted Fields, currentSeat string, proposedSeats []string, evidence []EvidenceExcerpt) Decision {
	snapshot := map[string]interface{}{
		"current_seat":               currentSeat,
		"proposed_seats":             proposedSeats,
		"institution_rules":          firstNonEmpty(IntakeString(intake, KeyInstitutionRules), extracted.InstitutionRules),
		"governing_law":              firstNonEmpty(IntakeString(intake, KeyGoverningLaw), extracted.GoverningLaw),
		"urgency":                    firstNonEmpty(IntakeString(intake, KeyUrgency), extracted.Urgency),
		"parties":                    firstNonEmptyList(IntakeList(intake, KeyParties), extracted.Parties),
		"nature_of_dispute":          firstNonEmpty(IntakeString(intake, KeyNatureOfDispute), extracted.NatureOfDispute),
		"parties_assets_where":       firstNonEmpty(IntakeString(intake, KeyPartiesAssetsWhere), extracted.PartiesAssetsWhere),
		"arbitration_agreement_text": firstNonEmpty(IntakeString(intake, KeyAgreementText), extracted.ArbitrationAgreementText),
	}

	prompt := map[string]interface{}{
		"task": "Decide whether the arbitration seat should be changed, and if so, recommend the most suitable seat among the proposed options.",
		"critical_rules": []string{
			"You MUST ONLY use the provided evidence excerpts. Do NOT rely on outside knowledge.",
			"If the provided sources do not support a recommendation, return should_change_seat = 'intervention_required' and list what is missing.",
			"Every non-trivial reason MUST include a citation: {source, page, quote}. Quote <= 20 words.",
			"Prefer direct rule/contract language over inference.",
			"Do NOT claim legal certainty. This is a decision-support draft, not legal advice.",
		},
		"decision_goal": map[string]interface{}{
			"question": "Should the seat be changed? If yes, to where?",
			"candidates": map[string]interface{}{
				"current_seat":   currentSeat,
				"proposed_seats": proposedSeats,
			},
		},
		"case_snapshot":     snapshot,
		"evidence_excerpts": evidence,
		"output_json_schema": map[string]string{
			"should_change_seat":        "'yes' | 'no' | 'intervention_required'",
			"preferred_seat":            "string|null",
			"alternative_seat":          "string|null",
			"rationale":                 "string[] (6-12 bullets, each should include citation markers like [source p.X])",
			"jurisdiction_notes":        "object mapping seat-> {pros: string[], cons: string[]}",
			"selection_criteria":        "string[] (high-level factors used; keep generic if evidence doesn't specify)",
			"shortlisted_jurisdictions": "string[] (seats actually compared)",
			"alternative_circumstances": "string",
			"missing_info":              "string[]",
			"citations":                 "[{source: string, page: number|null, quote: string, used_in: string}]",
		},
	}
	promptJSON, err := json.Marshal(prompt)
	if err != nil {
		return e.fallbackDecision(currentSeat, proposedSeats, "internal prompt construction failed")
	}
	messages := []llm.Message{
		{Role: "system", Content: decideSystemPrompt},
		{Role: "user", Content: string(promptJSON)},
	}

	raw, err := e.Client.Complete(ctx, messages, llm.Options{Temperature: 0.2, JSONObject: true})
	if err != nil {
		if e.Logger != nil {
			e.Logger.Printf("warn: structured decision failed, retrying plain: %v", err)
		}
		raw, err = e.Client.Complete(ctx, messages, llm.Options{Temperature: 0.2})
		if err != nil {
			if e.Logger != nil {
				e.Logger.Printf("warn: decision call failed: %v", err)
			}
			return e.fallbackDecision(currentSeat, proposedSeats, "the completion service call failed")
		}
	}

	data, ok := SafeJSONObject(raw)
	if !ok {
		return e.fallbackDecision(currentSeat, proposedSeats, "the completion service returned no parseable result")
	}
	d := decisionFromMap(data)
	if d.PreferredSeat == "" {
		d.PreferredSeat = currentSeat
	}
	d.Normalize()
	return d
}

func (e *Engine) fallbackDecision(currentSeat string, proposedSeats []string, reason string) Decision {
	d := Decision{
		ShouldChangeSeat:         InterventionNeeded,
		PreferredSeat:            currentSeat,
		Rationale:                []string{"Decision not generated: " + reason + "."},
		AlternativeCircumstances: "To be determined.",
		MissingInfo:              []string{"completion_service_result"},
	}
	if len(proposedSeats) > 0 {
		d.AlternativeSeat = proposedSeats[0]
	}
	d.Normalize()
	return d
}

// decisionFromMap coerces a loosely-typed model response. Non-list fields
// expected to be lists become singleton lists; absent keys default to neutral
// values; unknown enum values are handled later by Normalize.
func decisionFromMap(m map[string]interface{}) Decision {
	d := Decision{
		ShouldChangeSeat:         asString(m["should_change_seat"]),
		PreferredSeat:            cleanWS(asString(m["preferred_seat"])),
		AlternativeSeat:          cleanWS(asString(m["alternative_seat"])),
		Rationale:                asStringList(m["rationale"]),
		SelectionCriteria:        asStringList(m["selection_criteria"]),
		ShortlistedJurisdictions: asStringList(m["shortlisted_jurisdictions"]),
		AlternativeCircumstances: asString(m["alternative_circumstances"]),
		MissingInfo:              asStringList(m["missing_info"]),
		JurisdictionNotes:        map[string]SeatNotes{},
	}
	if notes, ok := m["jurisdiction_notes"].(map[string]interface{}); ok {
		for seat, raw := range notes {
			switch v := raw.(type) {
			case map[string]interface{}:
				d.JurisdictionNotes[seat] = SeatNotes{
					Pros: asStringList(firstKey(v, "pros", "positives")),
					Cons: asStringList(firstKey(v, "cons", "negatives")),
				}
			case string:
				d.JurisdictionNotes[seat] = SeatNotes{Pros: []string{v}}
			}
		}
	}
	if rawCites, ok := m["citations"].([]interface{}); ok {
		for _, raw := range rawCites {
			cm, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			c := Citation{
				Source: asString(cm["source"]),
				Quote:  asString(cm["quote"]),
				UsedIn: asString(cm["used_in"]),
			}
			if page, ok := cm["page"].(float64); ok {
				c.Page = int(page)
			}
			if c.Source != "" || c.Quote != "" {
				d.Citations = append(d.Citations, c)
			}
		}
	}
	return d
}

func firstKey(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

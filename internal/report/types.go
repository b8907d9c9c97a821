package report

import (
	"encoding/json"
	"strings"
)

// Reserved intake keys. Intake is the project's fact sheet: user-provided
// values, extraction results, and pipeline bookkeeping share one map.
const (
	KeyCurrentSeat        = "current_seat"
	KeyProposedSeats      = "proposed_seats"
	KeyInstitutionRules   = "institution_rules"
	KeyGoverningLaw       = "governing_law"
	KeyAgreementText      = "arbitration_agreement_text"
	KeyUrgency            = "urgency"
	KeyParties            = "parties"
	KeyNatureOfDispute    = "nature_of_dispute"
	KeyPartiesAssetsWhere = "parties_assets_where"

	// Bookkeeping keys, written by the pipeline and the chat layer.
	KeyAssumptions       = "_assumptions"
	KeyOverrides         = "_assumption_overrides"
	KeyIntervention      = "_intervention"
	KeyLastDecision      = "_last_decision"
	KeyLastReportExcerpt = "_last_report_excerpt"
)

// Decision outcomes.
const (
	ChangeYes          = "yes"
	ChangeNo           = "no"
	InterventionNeeded = "intervention_required"
)

// RequiredFields must all be present (proposed_seats non-empty) before a
// grounded recommendation can be considered complete.
var RequiredFields = []string{KeyCurrentSeat, KeyProposedSeats, KeyAgreementText}

// DocText pairs a document name with its joined page-tagged text.
type DocText struct {
	Name string
	Text string
}

// EvidenceExcerpt is a scored, page-attributed fragment used to ground claims.
// Transient: computed per pipeline run, persisted only as citations.
type EvidenceExcerpt struct {
	Doc     string `json:"doc"`
	Page    int    `json:"page"` // 0 when unknown
	Excerpt string `json:"excerpt"`
	Score   int    `json:"score"`
}

// Citation ties a claim back to a document excerpt.
type Citation struct {
	Source string `json:"source"`
	Page   int    `json:"page,omitempty"`
	Quote  string `json:"quote"`
	UsedIn string `json:"used_in,omitempty"`
}

// SeatNotes holds per-jurisdiction positives and negatives.
type SeatNotes struct {
	Pros []string `json:"pros"`
	Cons []string `json:"cons"`
}

// Decision is the structured outcome of the decision engine. It is always
// structurally valid: ShouldChangeSeat is one of the three allowed values and
// list/map fields are never nil after normalization.
type Decision struct {
	ShouldChangeSeat         string               `json:"should_change_seat"`
	PreferredSeat            string               `json:"preferred_seat,omitempty"`
	AlternativeSeat          string               `json:"alternative_seat,omitempty"`
	Rationale                []string             `json:"rationale"`
	JurisdictionNotes        map[string]SeatNotes `json:"jurisdiction_notes"`
	SelectionCriteria        []string             `json:"selection_criteria,omitempty"`
	ShortlistedJurisdictions []string             `json:"shortlisted_jurisdictions,omitempty"`
	AlternativeCircumstances string               `json:"alternative_circumstances,omitempty"`
	MissingInfo              []string             `json:"missing_info"`
	Citations                []Citation           `json:"citations"`
}

// Normalize repairs a decision in place so downstream consumers never branch
// on missing structure. Unknown outcome values collapse to intervention_required.
func (d *Decision) Normalize() {
	switch d.ShouldChangeSeat {
	case ChangeYes, ChangeNo, InterventionNeeded:
	default:
		d.ShouldChangeSeat = InterventionNeeded
	}
	if d.Rationale == nil {
		d.Rationale = []string{}
	}
	if d.JurisdictionNotes == nil {
		d.JurisdictionNotes = map[string]SeatNotes{}
	}
	if d.MissingInfo == nil {
		d.MissingInfo = []string{}
	}
	if d.Citations == nil {
		d.Citations = []Citation{}
	}
}

// FieldEvidence is the quote backing one extracted field.
type FieldEvidence struct {
	Doc   string `json:"doc,omitempty"`
	Page  int    `json:"page,omitempty"`
	Quote string `json:"quote"`
}

// Fields is the structured case data derived from documents, with a citation
// per populated field.
type Fields struct {
	CurrentSeat              string                     `json:"current_seat,omitempty"`
	ProposedSeats            []string                   `json:"proposed_seats,omitempty"`
	InstitutionRules         string                     `json:"institution_rules,omitempty"`
	GoverningLaw             string                     `json:"governing_law,omitempty"`
	Urgency                  string                     `json:"urgency,omitempty"`
	Parties                  []string                   `json:"parties,omitempty"`
	NatureOfDispute          string                     `json:"nature_of_dispute,omitempty"`
	ProceduralSensitivities  []string                   `json:"procedural_sensitivities,omitempty"`
	ArbitrationAgreementText string                     `json:"arbitration_agreement_text,omitempty"`
	PartiesAssetsWhere       string                     `json:"parties_assets_where,omitempty"`
	Evidence                 map[string][]FieldEvidence `json:"evidence,omitempty"`
}

// Intake helpers. Intake arrives from JSONB as map[string]interface{}; these
// keep the coercion rules in one place.

// IntakeString fetches a string-ish value from intake.
func IntakeString(intake map[string]interface{}, key string) string {
	if intake == nil {
		return ""
	}
	switch v := intake[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// IntakeList fetches a list value from intake, coercing a bare scalar into a
// singleton list.
func IntakeList(intake map[string]interface{}, key string) []string {
	if intake == nil {
		return nil
	}
	switch v := intake[key].(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					out = append(out, trimmed)
				}
			}
		}
		return out
	case string:
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	default:
		return nil
	}
}

// Overrides returns the _assumption_overrides map, never nil.
func Overrides(intake map[string]interface{}) map[string]interface{} {
	if intake != nil {
		if m, ok := intake[KeyOverrides].(map[string]interface{}); ok {
			return m
		}
	}
	return map[string]interface{}{}
}

// EffectiveIntake applies _assumption_overrides on top of intake. Overrides
// are authoritative over both documents and prior extraction.
func EffectiveIntake(intake map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(intake))
	for k, v := range intake {
		out[k] = v
	}
	for k, v := range Overrides(intake) {
		out[k] = v
	}
	return out
}

// MissingRequired lists required-for-decision fields still absent after
// applying assumption overrides. Empty result means a decision can be complete.
func MissingRequired(intake map[string]interface{}) []string {
	eff := EffectiveIntake(intake)
	var missing []string
	for _, key := range RequiredFields {
		if key == KeyProposedSeats {
			if len(IntakeList(eff, key)) == 0 {
				missing = append(missing, key)
			}
			continue
		}
		if IntakeString(eff, key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// DecisionFromIntake recovers the _last_decision breadcrumb, if present.
func DecisionFromIntake(intake map[string]interface{}) (Decision, bool) {
	raw, ok := intake[KeyLastDecision]
	if !ok {
		return Decision{}, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal(b, &d); err != nil {
		return Decision{}, false
	}
	d.Normalize()
	return d, true
}

// DecisionBreadcrumb converts a decision into the plain-map form stored under
// _last_decision, so intake stays a uniform JSON object.
func DecisionBreadcrumb(d Decision) map[string]interface{} {
	b, err := json.Marshal(d)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

package chat

import (
	"regexp"
	"strings"

	"github.com/lexpilot/seatwise/internal/report"
)

// Scenario-assumption parsing. "Assume current seat is London and proposed
// seats are Paris and Geneva" becomes an overrides patch; overrides are
// authoritative over documents and prior extraction, so the patch is mirrored
// into the top-level intake fields on merge.

var (
	assumptionRe = regexp.MustCompile(`(?i)\b(assume|assuming|let'?s assume|treat\s+(?:it|this|that)?\s*as\s+true|for\s+(?:this|the)\s+scenario|hypothetically)\b`)

	currentSeatRe   = regexp.MustCompile(`(?i)\bcurrent\s+seat(?:\s+of\s+arbitration)?\s*(?:is|was|to\s+be|:|=)\s*([^,;.\n]+)`)
	proposedSeatsRe = regexp.MustCompile(`(?i)\bproposed\s+seats?(?:\s+of\s+arbitration)?\s*(?:are|is|:|=)\s*([^;.\n]+)`)
	preferredSeatRe = regexp.MustCompile(`(?i)\bpreferred\s+seat(?:\s+of\s+arbitration)?\s*(?:is|should\s+be|:|=)\s*([^,;.\n]+)`)
	govLawAssumeRe  = regexp.MustCompile(`(?i)\bgoverning\s+law\s*(?:is|:|=)\s*([^,;.\n]+)`)
	institutionRe   = regexp.MustCompile(`(?i)\b(?:institution(?:al)?\s+rules?|institution|rules)\s*(?:are|is|:|=)\s*([^,;.\n]+)`)
	clauseAssumeRe  = regexp.MustCompile(`(?i)\b(?:arbitration\s+)?(?:agreement|clause)\s+text\s*(?:is|reads|:|=)\s*(.+)`)

	// Cuts a greedy capture at the start of the next recognized field phrase
	// ("... is London and proposed seats are ..."). RE2 has no lookahead, so
	// the trim happens after capture.
	nextFieldRe = regexp.MustCompile(`(?i)\s+(?:and|but|while)\s+(?:the\s+)?(?:current\s+seat|proposed\s+seats?|preferred\s+seat|governing\s+law|institution|rules|agreement|clause)\b.*$`)

	seatListSplitRe = regexp.MustCompile(`(?i)\s*(?:,|\band\b|&)\s*`)
)

// IsAssumption reports whether a message uses scenario-assumption language.
func IsAssumption(text string) bool {
	return assumptionRe.MatchString(text)
}

// ParseOverrides extracts recognizable field assignments from an assumption
// message. The result maps intake keys (plus "preferred_seat") to forced
// values; empty when nothing recognizable was found.
func ParseOverrides(text string) map[string]interface{} {
	patch := map[string]interface{}{}

	if v := captureField(currentSeatRe, text); v != "" {
		patch[report.KeyCurrentSeat] = v
	}
	if m := proposedSeatsRe.FindStringSubmatch(text); m != nil {
		if seats := splitSeatList(m[1]); len(seats) > 0 {
			patch[report.KeyProposedSeats] = toList(seats)
		}
	}
	if v := captureField(preferredSeatRe, text); v != "" {
		patch["preferred_seat"] = v
	}
	if v := captureField(govLawAssumeRe, text); v != "" {
		patch[report.KeyGoverningLaw] = v
	}
	if v := captureField(institutionRe, text); v != "" {
		patch[report.KeyInstitutionRules] = v
	}
	if m := clauseAssumeRe.FindStringSubmatch(text); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" {
			patch[report.KeyAgreementText] = v
		}
	}
	return patch
}

// MergeOverrides applies an overrides patch to intake in place: each field is
// recorded under _assumption_overrides and mirrored into the top-level key,
// and the raw message is appended to _assumptions.
func MergeOverrides(intake map[string]interface{}, patch map[string]interface{}, rawText string) {
	if len(patch) == 0 {
		return
	}
	overrides := report.Overrides(intake)
	for k, v := range patch {
		overrides[k] = v
		if k != "preferred_seat" {
			intake[k] = v
		}
	}
	intake[report.KeyOverrides] = overrides

	assumptions := report.IntakeList(intake, report.KeyAssumptions)
	assumptions = append(assumptions, strings.TrimSpace(rawText))
	intake[report.KeyAssumptions] = toList(assumptions)
}

func captureField(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	v := nextFieldRe.ReplaceAllString(m[1], "")
	return strings.Trim(strings.TrimSpace(v), `"'`)
}

func splitSeatList(raw string) []string {
	raw = nextFieldRe.ReplaceAllString(raw, "")
	var out []string
	for _, part := range seatListSplitRe.Split(raw, -1) {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func toList(items []string) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	return out
}

package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lexpilot/seatwise/internal/store"
)

// MissingInfoHeading is a wire contract with the chat layer, which parses the
// rendered report to recover blockers. Do not change the literal text without
// updating the chat-side parser.
const MissingInfoHeading = "Missing information / blockers:"

const (
	placeholderNotProvided  = "Not provided."
	placeholderToBeDecided  = "To be determined."
	reportMimeType          = "text/markdown"
	clauseTableExcerptChars = 500
	maxRenderedCitations    = 20
	citationQuoteChars      = 180
)

// Default selection criteria rendered when the decision supplies none.
var defaultSelectionCriteria = []string{
	"Enforceability and annulment risk considerations",
	"Court support vs interference",
	"Interim measures availability and urgency",
	"Compatibility with institution rules and clause wording",
	"Practicalities (language, logistics), where relevant",
}

// Generated is a rendered report artifact.
type Generated struct {
	Filename string
	MimeType string
	Content  []byte
}

// Renderer assembles the fixed-section report document. Rendering is
// deterministic and side-effect-free and must never fail for any input; every
// optional field renders an explicit placeholder so the document structure is
// stable across runs.
type Renderer struct {
	Now func() time.Time
}

func (r *Renderer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Render produces the report for a project from intake, extracted fields, and
// the decision. Empty documents and a zero decision are legal inputs.
func (r *Renderer) Render(project store.Project, documents []store.Document, extracted Fields, decision Decision) Generated {
	intake := project.Intake
	if intake == nil {
		intake = map[string]interface{}{}
	}

	var b strings.Builder
	title := project.Title
	if title == "" {
		title = "Seat of Arbitration Selection"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Generated: %s\n\n", r.now().UTC().Format("2006-01-02 15:04 UTC"))

	b.WriteString("## Project details\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	row := func(k, v string) {
		if v == "" {
			v = "—"
		}
		fmt.Fprintf(&b, "| %s | %s |\n", k, strings.ReplaceAll(v, "\n", " "))
	}
	row("Project ID", project.ID)
	row("Status", project.Status)
	row("Current seat", firstNonEmpty(IntakeString(intake, KeyCurrentSeat), extracted.CurrentSeat))
	row("Proposed seat(s)", strings.Join(firstNonEmptyList(IntakeList(intake, KeyProposedSeats), extracted.ProposedSeats), ", "))
	row("Institution / rules", firstNonEmpty(IntakeString(intake, KeyInstitutionRules), extracted.InstitutionRules))
	row("Governing law (contract)", firstNonEmpty(IntakeString(intake, KeyGoverningLaw), extracted.GoverningLaw))
	row("Urgency (interim measures)", firstNonEmpty(IntakeString(intake, KeyUrgency), extracted.Urgency))
	row("Parties / assets location", firstNonEmpty(IntakeString(intake, KeyPartiesAssetsWhere), extracted.PartiesAssetsWhere))
	clause := firstNonEmpty(IntakeString(intake, KeyAgreementText), extracted.ArbitrationAgreementText)
	if clause != "" {
		row("Arbitration agreement (excerpt)", truncate(clause, clauseTableExcerptChars))
	}
	b.WriteString("\n")

	b.WriteString("## Sources provided\n\n")
	if len(documents) > 0 {
		for _, d := range documents {
			name := d.Filename
			if name == "" {
				name = "document"
			}
			var meta []string
			if d.MimeType != "" {
				meta = append(meta, d.MimeType)
			}
			if d.ByteSize > 0 {
				meta = append(meta, fmt.Sprintf("%d bytes", d.ByteSize))
			}
			if len(meta) > 0 {
				fmt.Fprintf(&b, "- %s (%s)\n", name, strings.Join(meta, ", "))
			} else {
				fmt.Fprintf(&b, "- %s\n", name)
			}
		}
	} else {
		b.WriteString("No documents were uploaded at the time this report was generated.\n")
	}
	b.WriteString("\n")
	b.WriteString("Note: This document is an automatically generated working draft. It may contain placeholders when key information is missing. Review extracted details before relying on them.\n\n")
	b.WriteString("Disclaimer: This output is for decision-support only and is not legal advice. It may be incomplete or incorrect. Always have a qualified practitioner review the underlying documents and applicable rules.\n\n")

	b.WriteString("## 1. Grounds of the Dispute\n\n")
	b.WriteString("### 1.1 Nature of the Dispute\n\n")
	writeText(&b, firstNonEmpty(extracted.NatureOfDispute, IntakeString(intake, KeyNatureOfDispute)), placeholderNotProvided)

	b.WriteString("### 1.2 Parties\n\n")
	writeBullets(&b, firstNonEmptyList(extracted.Parties, IntakeList(intake, KeyParties)), placeholderNotProvided)

	b.WriteString("### 1.3 Governing Law and Arbitration Agreement\n\n")
	gl := firstNonEmpty(IntakeString(intake, KeyGoverningLaw), extracted.GoverningLaw)
	if gl != "" {
		fmt.Fprintf(&b, "Governing law: %s\n\n", gl)
	} else {
		b.WriteString("Governing law: " + placeholderNotProvided + "\n\n")
	}
	if clause != "" {
		b.WriteString("Arbitration agreement text (as provided):\n\n")
		b.WriteString(clause + "\n\n")
	} else {
		b.WriteString("Arbitration agreement text: " + placeholderNotProvided + "\n\n")
	}

	b.WriteString("### 1.4 Procedural Sensitivities\n\n")
	writeBullets(&b, firstNonEmptyList(extracted.ProceduralSensitivities, IntakeList(intake, "procedural_sensitivities")), placeholderNotProvided)

	b.WriteString("## 2. Compatible Jurisdictions\n\n")
	b.WriteString("### 2.1 Selection Criteria\n\n")
	criteria := decision.SelectionCriteria
	if len(criteria) == 0 {
		criteria = defaultSelectionCriteria
	}
	writeBullets(&b, criteria, placeholderToBeDecided)

	b.WriteString("### 2.2 Shortlisted Jurisdictions\n\n")
	shortlisted := decision.ShortlistedJurisdictions
	if len(shortlisted) == 0 {
		shortlisted = firstNonEmptyList(IntakeList(intake, KeyProposedSeats), extracted.ProposedSeats)
	}
	if len(shortlisted) > 0 {
		writeBullets(&b, shortlisted, "")
	} else {
		b.WriteString("No proposed seats were provided.\n\n")
	}

	b.WriteString("### 2.3 Jurisdiction-Specific Notes\n\n")
	if len(decision.JurisdictionNotes) > 0 {
		for _, seat := range sortedNoteSeats(decision.JurisdictionNotes) {
			notes := decision.JurisdictionNotes[seat]
			line := "Pros: " + strings.Join(notes.Pros, "; ")
			if len(notes.Cons) > 0 {
				line += " Cons: " + strings.Join(notes.Cons, "; ")
			}
			fmt.Fprintf(&b, "- %s: %s\n", seat, strings.TrimSpace(line))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("To be completed during the analysis phase. Add evidence-backed positives/negatives per seat here.\n\n")
	}

	b.WriteString("## 3. Conclusion – Most Ideal Seat of Arbitration\n\n")
	b.WriteString("### 3.1 Preferred Seat\n\n")
	if decision.ShouldChangeSeat != "" {
		fmt.Fprintf(&b, "Seat change recommendation: %s\n\n", prettyFlag(decision.ShouldChangeSeat))
	}
	b.WriteString("Recommended seat of arbitration:\n\n")
	writeText(&b, decision.PreferredSeat, placeholderToBeDecided)

	if decision.ShouldChangeSeat == InterventionNeeded && len(decision.MissingInfo) > 0 {
		b.WriteString(MissingInfoHeading + "\n\n")
		writeBullets(&b, decision.MissingInfo, "")
	}

	b.WriteString("### 3.2 Rationale\n\n")
	if len(decision.Rationale) > 0 {
		writeBullets(&b, decision.Rationale, "")
	} else {
		b.WriteString("To be completed once the seat comparison matrix and evidence review are available.\n\n")
	}

	if len(decision.Citations) > 0 {
		b.WriteString("Evidence citations (excerpts):\n\n")
		count := 0
		for _, c := range decision.Citations {
			if count >= maxRenderedCitations {
				break
			}
			label := c.Source
			if c.Page > 0 {
				label += fmt.Sprintf(" p.%d", c.Page)
			}
			if quote := truncate(c.Quote, citationQuoteChars); quote != "" {
				label += ": " + quote
			}
			label = strings.TrimSpace(label)
			if label == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", label)
			count++
		}
		b.WriteString("\n")
	}

	b.WriteString("### 3.3 Alternative or Backup Seat (if applicable)\n\n")
	b.WriteString("Secondary recommended seat:\n\n")
	writeText(&b, decision.AlternativeSeat, placeholderToBeDecided)
	b.WriteString("Circumstances in which this alternative may be preferable:\n\n")
	writeText(&b, decision.AlternativeCircumstances, placeholderToBeDecided)

	filename := strings.ReplaceAll(title, "/", "_") + ".md"
	return Generated{
		Filename: filename,
		MimeType: reportMimeType,
		Content:  []byte(b.String()),
	}
}

func writeText(b *strings.Builder, text, placeholder string) {
	if text == "" {
		text = placeholder
	}
	b.WriteString(text + "\n\n")
}

func writeBullets(b *strings.Builder, items []string, placeholder string) {
	if len(items) == 0 {
		if placeholder != "" {
			b.WriteString(placeholder + "\n\n")
		}
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", strings.ReplaceAll(item, "\n", " "))
	}
	b.WriteString("\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return cutBytes(s, n) + "…"
}

// cutBytes shortens s to at most n bytes, backing up so a multibyte UTF-8
// sequence is never split.
func cutBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func prettyFlag(flag string) string {
	switch flag {
	case ChangeYes:
		return "Yes"
	case ChangeNo:
		return "No"
	case InterventionNeeded:
		return "Intervention required"
	default:
		return flag
	}
}

func sortedNoteSeats(notes map[string]SeatNotes) []string {
	seats := make([]string, 0, len(notes))
	for seat := range notes {
		seats = append(seats, seat)
	}
	sort.Strings(seats)
	return seats
}

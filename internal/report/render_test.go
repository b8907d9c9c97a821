package report

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/lexpilot/seatwise/internal/store"
)

func fixedRenderer() *Renderer {
	return &Renderer{Now: func() time.Time {
		return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	}}
}

func TestRenderEmptyInputsUsesPlaceholders(t *testing.T) {
	out := fixedRenderer().Render(store.Project{}, nil, Fields{}, Decision{})
	md := string(out.Content)

	if out.MimeType != "text/markdown" {
		t.Fatalf("mime type %q", out.MimeType)
	}
	if out.Filename != "Seat of Arbitration Selection.md" {
		t.Fatalf("filename %q", out.Filename)
	}
	if !strings.Contains(md, "# Seat of Arbitration Selection") {
		t.Fatalf("missing default title:\n%s", md)
	}
	if !strings.Contains(md, "Generated: 2026-03-14 09:30 UTC") {
		t.Fatalf("missing timestamp line")
	}
	if !strings.Contains(md, "Not provided.") {
		t.Fatalf("missing not-provided placeholder")
	}
	if !strings.Contains(md, "To be determined.") {
		t.Fatalf("missing to-be-determined placeholder")
	}
	if !strings.Contains(md, "No documents were uploaded") {
		t.Fatalf("missing empty-sources line")
	}
	if !strings.Contains(md, "No proposed seats were provided.") {
		t.Fatalf("missing empty-shortlist line")
	}
	// A zero decision renders the default criteria, never an empty section.
	if !strings.Contains(md, "Enforceability and annulment risk considerations") {
		t.Fatalf("missing default selection criteria")
	}
	if !strings.Contains(md, "not legal advice") {
		t.Fatalf("missing disclaimer")
	}
	if strings.Contains(md, MissingInfoHeading) {
		t.Fatalf("blockers heading must not render for a zero decision")
	}
}

func TestRenderDeterministic(t *testing.T) {
	project := store.Project{Title: "Acme v Beta", Intake: map[string]interface{}{
		KeyCurrentSeat:   "London",
		KeyProposedSeats: []interface{}{"Paris", "Geneva"},
	}}
	decision := Decision{
		ShouldChangeSeat: ChangeYes,
		PreferredSeat:    "Geneva",
		JurisdictionNotes: map[string]SeatNotes{
			"Paris":  {Pros: []string{"ICC home"}},
			"Geneva": {Pros: []string{"neutral"}, Cons: []string{"cost"}},
			"Dubai":  {Pros: []string{"regional"}},
		},
	}
	a := fixedRenderer().Render(project, nil, Fields{}, decision)
	b := fixedRenderer().Render(project, nil, Fields{}, decision)
	if string(a.Content) != string(b.Content) {
		t.Fatalf("two renders of the same input differ")
	}
	md := string(a.Content)
	if strings.Index(md, "- Dubai:") > strings.Index(md, "- Geneva:") ||
		strings.Index(md, "- Geneva:") > strings.Index(md, "- Paris:") {
		t.Fatalf("jurisdiction notes not sorted:\n%s", md)
	}
	if !strings.Contains(md, "Seat change recommendation: Yes") {
		t.Fatalf("missing recommendation flag line")
	}
}

func TestRenderBlockersSection(t *testing.T) {
	decision := Decision{
		ShouldChangeSeat: InterventionNeeded,
		MissingInfo:      []string{"current_seat", "proposed_seats"},
	}
	md := string(fixedRenderer().Render(store.Project{Title: "X"}, nil, Fields{}, decision).Content)
	if !strings.Contains(md, MissingInfoHeading) {
		t.Fatalf("missing blockers heading")
	}
	if !strings.Contains(md, "- current_seat\n- proposed_seats") {
		t.Fatalf("missing blocker bullets:\n%s", md)
	}
	if !strings.Contains(md, "Seat change recommendation: Intervention required") {
		t.Fatalf("missing intervention flag line")
	}
}

func TestRenderCitationCapAndQuoteTruncation(t *testing.T) {
	decision := Decision{ShouldChangeSeat: ChangeNo, Rationale: []string{"stays"}}
	for i := 0; i < 30; i++ {
		decision.Citations = append(decision.Citations, Citation{
			Source: fmt.Sprintf("doc%d.pdf", i),
			Page:   i + 1,
			Quote:  strings.Repeat("q", 300),
		})
	}
	md := string(fixedRenderer().Render(store.Project{Title: "X"}, nil, Fields{}, decision).Content)

	if got := strings.Count(md, ".pdf p."); got != 20 {
		t.Fatalf("expected 20 rendered citations, got %d", got)
	}
	if strings.Contains(md, strings.Repeat("q", 181)) {
		t.Fatalf("citation quote not truncated")
	}
	if !strings.Contains(md, strings.Repeat("q", 180)+"…") {
		t.Fatalf("expected truncation marker")
	}
}

func TestRenderClauseExcerptCapped(t *testing.T) {
	clause := strings.Repeat("c", 700)
	project := store.Project{Title: "X", Intake: map[string]interface{}{KeyAgreementText: clause}}
	md := string(fixedRenderer().Render(project, nil, Fields{}, Decision{}).Content)

	if !strings.Contains(md, "| Arbitration agreement (excerpt) | "+strings.Repeat("c", 500)+"… |") {
		t.Fatalf("table excerpt not capped at 500 chars")
	}
	// The full clause still appears in section 1.3.
	if !strings.Contains(md, clause) {
		t.Fatalf("full clause text missing from agreement section")
	}
}

func TestRenderFilenameSlashes(t *testing.T) {
	out := fixedRenderer().Render(store.Project{Title: "Acme/Beta"}, nil, Fields{}, Decision{})
	if out.Filename != "Acme_Beta.md" {
		t.Fatalf("filename %q", out.Filename)
	}
}

func TestTruncationNeverSplitsRunes(t *testing.T) {
	s := "a" + strings.Repeat("€", 100) // 3-byte runes off the byte grid
	for _, n := range []int{1, 2, 3, 4, 180, 299, 301} {
		got := cutBytes(s, n)
		if !utf8.ValidString(got) {
			t.Fatalf("cut at %d produced invalid UTF-8: %q", n, got)
		}
		if len(got) > n {
			t.Fatalf("cut at %d returned %d bytes", n, len(got))
		}
	}

	got := truncate(s, citationQuoteChars)
	if !utf8.ValidString(got) {
		t.Fatalf("quote truncation produced invalid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("truncation marker missing: %q", got)
	}
}

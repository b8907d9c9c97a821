package report

import (
	"context"
	"testing"

	"github.com/lexpilot/seatwise/internal/llm"
)

// fakeClient is a canned completion client shared by the package tests.
type fakeClient struct {
	unavailable bool
	response    string
	err         error
	calls       int
}

func (f *fakeClient) Available() bool { return !f.unavailable }

func (f *fakeClient) Complete(_ context.Context, _ []llm.Message, _ llm.Options) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func seatDocs() []DocText {
	return []DocText{{Name: "guide.pdf", Text: "[PAGE 1]\nThe seat of arbitration determines the supervisory courts. Paris and Geneva are both arbitration-friendly seats under the New York Convention."}}
}

func TestDecideOverrideWinsWithoutModelCall(t *testing.T) {
	client := &fakeClient{response: `{"should_change_seat": "no"}`}
	e := &Engine{Client: client}

	intake := map[string]interface{}{
		KeyOverrides: map[string]interface{}{"preferred_seat": "Paris"},
	}
	d := e.Decide(context.Background(), seatDocs(), intake, Fields{})
	if d.ShouldChangeSeat != ChangeYes {
		t.Fatalf("expected yes, got %q", d.ShouldChangeSeat)
	}
	if d.PreferredSeat != "Paris" {
		t.Fatalf("expected Paris, got %q", d.PreferredSeat)
	}
	if client.calls != 0 {
		t.Fatalf("override must not call the model, got %d calls", client.calls)
	}
	if _, ok := d.JurisdictionNotes["Paris"]; !ok {
		t.Fatalf("expected jurisdiction notes for the forced seat")
	}
}

func TestDecideWithoutClientNeedsIntervention(t *testing.T) {
	e := &Engine{}
	intake := map[string]interface{}{
		KeyCurrentSeat:   "London",
		KeyProposedSeats: []interface{}{"Paris", "Geneva"},
	}
	d := e.Decide(context.Background(), seatDocs(), intake, Fields{})
	if d.ShouldChangeSeat != InterventionNeeded {
		t.Fatalf("expected intervention_required, got %q", d.ShouldChangeSeat)
	}
	if !containsString(d.MissingInfo, "completion_service_credential") {
		t.Fatalf("expected completion_service_credential in missing info, got %v", d.MissingInfo)
	}
	if d.PreferredSeat != "London" {
		t.Fatalf("expected current seat kept, got %q", d.PreferredSeat)
	}
	if d.AlternativeSeat != "Paris" {
		t.Fatalf("expected first proposed seat as alternative, got %q", d.AlternativeSeat)
	}
}

func TestDecideNoEvidenceNeedsIntervention(t *testing.T) {
	client := &fakeClient{response: `{"should_change_seat": "yes"}`}
	e := &Engine{Client: client}
	d := e.Decide(context.Background(), nil, map[string]interface{}{}, Fields{})
	if d.ShouldChangeSeat != InterventionNeeded {
		t.Fatalf("expected intervention_required, got %q", d.ShouldChangeSeat)
	}
	if !containsString(d.MissingInfo, "extractable_evidence") {
		t.Fatalf("expected extractable_evidence, got %v", d.MissingInfo)
	}
	if !containsString(d.MissingInfo, KeyCurrentSeat) || !containsString(d.MissingInfo, KeyProposedSeats) {
		t.Fatalf("expected missing seat fields listed, got %v", d.MissingInfo)
	}
	if client.calls != 0 {
		t.Fatalf("no-evidence path must not call the model")
	}
}

func TestDecideGroundedParsesModelDecision(t *testing.T) {
	client := &fakeClient{response: `{
		"should_change_seat": "yes",
		"preferred_seat": "Geneva",
		"alternative_seat": "Paris",
		"rationale": ["Geneva offers stronger interim relief [guide.pdf p.1]"],
		"jurisdiction_notes": {"Geneva": {"pros": ["neutral"], "cons": ["cost"]}},
		"shortlisted_jurisdictions": ["Paris", "Geneva"],
		"missing_info": [],
		"citations": [{"source": "guide.pdf", "page": 1, "quote": "arbitration-friendly seats", "used_in": "rationale"}]
	}`}
	e := &Engine{Client: client}
	intake := map[string]interface{}{
		KeyCurrentSeat:   "London",
		KeyProposedSeats: []interface{}{"Paris", "Geneva"},
	}
	d := e.Decide(context.Background(), seatDocs(), intake, Fields{})
	if d.ShouldChangeSeat != ChangeYes {
		t.Fatalf("expected yes, got %q", d.ShouldChangeSeat)
	}
	if d.PreferredSeat != "Geneva" {
		t.Fatalf("expected Geneva, got %q", d.PreferredSeat)
	}
	if len(d.Citations) != 1 || d.Citations[0].Page != 1 {
		t.Fatalf("expected one page-1 citation, got %+v", d.Citations)
	}
	if notes, ok := d.JurisdictionNotes["Geneva"]; !ok || len(notes.Pros) != 1 {
		t.Fatalf("expected Geneva notes, got %+v", d.JurisdictionNotes)
	}
}

func TestDecideUnparseableFallsClosed(t *testing.T) {
	client := &fakeClient{response: "I think the seat should probably change, but it depends."}
	e := &Engine{Client: client}
	intake := map[string]interface{}{
		KeyCurrentSeat:   "London",
		KeyProposedSeats: []interface{}{"Paris"},
	}
	d := e.Decide(context.Background(), seatDocs(), intake, Fields{})
	if d.ShouldChangeSeat != InterventionNeeded {
		t.Fatalf("expected intervention_required, got %q", d.ShouldChangeSeat)
	}
	if !containsString(d.MissingInfo, "completion_service_result") {
		t.Fatalf("expected completion_service_result, got %v", d.MissingInfo)
	}
	if d.PreferredSeat != "London" {
		t.Fatalf("fallback keeps current seat, got %q", d.PreferredSeat)
	}
}

func TestDecideEmptyPreferredDefaultsToCurrent(t *testing.T) {
	client := &fakeClient{response: `{"should_change_seat": "no", "rationale": ["The current seat remains suitable."]}`}
	e := &Engine{Client: client}
	intake := map[string]interface{}{KeyCurrentSeat: "London"}
	d := e.Decide(context.Background(), seatDocs(), intake, Fields{ProposedSeats: []string{"Paris"}})
	if d.ShouldChangeSeat != ChangeNo {
		t.Fatalf("expected no, got %q", d.ShouldChangeSeat)
	}
	if d.PreferredSeat != "London" {
		t.Fatalf("expected current seat default, got %q", d.PreferredSeat)
	}
}

func TestDecideNormalizesUnknownFlag(t *testing.T) {
	client := &fakeClient{response: `{"should_change_seat": "maybe", "preferred_seat": "Paris"}`}
	e := &Engine{Client: client}
	intake := map[string]interface{}{KeyCurrentSeat: "London"}
	d := e.Decide(context.Background(), seatDocs(), intake, Fields{})
	if d.ShouldChangeSeat != InterventionNeeded {
		t.Fatalf("unknown flag should degrade to intervention_required, got %q", d.ShouldChangeSeat)
	}
	if d.Rationale == nil || d.MissingInfo == nil || d.Citations == nil {
		t.Fatalf("normalized decision must have non-nil list fields")
	}
}

package report

import (
	"strings"
	"testing"
)

func TestExtractTextUnsupportedFormat(t *testing.T) {
	if out := ExtractText([]byte("plain text"), "text/plain", "notes.txt"); out != nil {
		t.Fatalf("expected nil for unsupported format, got %v", out)
	}
	if out := ExtractText([]byte("not a real pdf"), "application/pdf", "broken.pdf"); out != nil {
		t.Fatalf("expected nil for unparseable pdf, got %v", out)
	}
}

func TestJoinSplitRoundTrip(t *testing.T) {
	pages := []PageText{
		{Page: 1, Text: "First page."},
		{Page: 2, Text: ""},
		{Page: 3, Text: "Third page, with a seat of arbitration clause."},
	}
	joined := JoinPages(pages)
	if !strings.Contains(joined, "[PAGE 1]") || !strings.Contains(joined, "[PAGE 3]") {
		t.Fatalf("expected page markers, got %q", joined)
	}
	if strings.Contains(joined, "[PAGE 2]") {
		t.Fatalf("empty pages must be skipped, got %q", joined)
	}

	back := SplitPages(joined)
	if len(back) != 2 {
		t.Fatalf("expected 2 pages back, got %d", len(back))
	}
	if back[0].Page != 1 || back[0].Text != "First page." {
		t.Fatalf("unexpected first page: %+v", back[0])
	}
	if back[1].Page != 3 || !strings.Contains(back[1].Text, "seat of arbitration") {
		t.Fatalf("unexpected second page: %+v", back[1])
	}
}

func TestSplitPagesWithoutMarkers(t *testing.T) {
	if out := SplitPages("no markers here at all"); out != nil {
		t.Fatalf("expected nil without markers, got %v", out)
	}
	if out := SplitPages(""); out != nil {
		t.Fatalf("expected nil for empty input, got %v", out)
	}
}

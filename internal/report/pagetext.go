package report

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageText is one page of extracted document text. Pages are 1-indexed.
type PageText struct {
	Page int
	Text string
}

var pageTagRe = regexp.MustCompile(`(?i)\[PAGE\s+(\d+)\]`)

// ExtractText converts document bytes into page-indexed plain text. Only
// page-structured formats are supported; anything else yields an empty result,
// not an error. A page that cannot be parsed yields an empty string so one bad
// page never aborts the document. Best-effort only: scanned (image-only) PDFs
// come back empty because no OCR is attempted.
func ExtractText(data []byte, mimeType, filename string) []PageText {
	if !isPDF(mimeType, filename) {
		return nil
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}
	n := r.NumPage()
	out := make([]PageText, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, PageText{Page: i, Text: extractPage(r, i)})
	}
	return out
}

func isPDF(mimeType, filename string) bool {
	if strings.Contains(strings.ToLower(mimeType), "pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(filename), ".pdf")
}

func extractPage(r *pdf.Reader, num int) (text string) {
	// The pdf package can panic on malformed content streams; treat that the
	// same as a page-level parse failure.
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
		}
	}()
	page := r.Page(num)
	if page.V.IsNull() {
		return ""
	}
	txt, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	txt = strings.ReplaceAll(txt, " ", " ")
	return strings.TrimSpace(txt)
}

// JoinPages joins page texts into one string with a machine-readable [PAGE N]
// marker preceding each page, so downstream components can recover page
// numbers from character offsets. Empty pages are skipped.
func JoinPages(pages []PageText) string {
	var b strings.Builder
	for _, p := range pages {
		if p.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n[PAGE %d]\n%s", p.Page, p.Text)
	}
	return strings.TrimSpace(b.String())
}

// SplitPages is the inverse of JoinPages: it recovers (page, text) pairs from
// joined text. Text before the first marker is dropped; pages with empty text
// are skipped.
func SplitPages(joined string) []PageText {
	if joined == "" {
		return nil
	}
	parts := pageTagRe.Split(joined, -1)
	tags := pageTagRe.FindAllStringSubmatch(joined, -1)
	if len(tags) == 0 {
		return nil
	}
	out := make([]PageText, 0, len(tags))
	for i, tag := range tags {
		page, err := strconv.Atoi(tag[1])
		if err != nil {
			page = -1
		}
		txt := ""
		if i+1 < len(parts) {
			txt = strings.TrimSpace(parts[i+1])
		}
		if txt == "" {
			continue
		}
		out = append(out, PageText{Page: page, Text: txt})
	}
	return out
}

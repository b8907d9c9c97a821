package report

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultMaxEvidencePages caps how many excerpts a selection returns.
const DefaultMaxEvidencePages = 14

// DefaultExcerptChars caps the length of a single excerpt.
const DefaultExcerptChars = 1600

const truncationMarker = "\n...[TRUNCATED]..."

// Base weighted term table for the seat-selection question. Seat-name tokens
// are appended per query at weight 3.
var baseTerms = []struct {
	term   string
	weight int
}{
	{"seat of arbitration", 8},
	{"place of arbitration", 8},
	{"seat", 2},
	{"jurisdiction", 2},
	{"governing law", 2},
	{"interim measures", 2},
	{"court", 1},
	{"set aside", 2},
	{"annul", 2},
	{"enforcement", 2},
	{"arbitration", 1},
}

var seatTokenRe = regexp.MustCompile(`[^A-Za-z]+`)

// seatTokens derives up to 6 case-normalized alphabetic tokens (length >= 3)
// from a seat name, deduplicated in order.
func seatTokens(seat string) []string {
	if seat == "" {
		return nil
	}
	toks := seatTokenRe.Split(seat, -1)
	seen := make(map[string]struct{})
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if len(t) < 3 {
			continue
		}
		tl := strings.ToLower(t)
		if _, ok := seen[tl]; ok {
			continue
		}
		seen[tl] = struct{}{}
		out = append(out, tl)
		if len(out) >= 6 {
			break
		}
	}
	return out
}

type weightedTerm struct {
	term   string
	weight int
}

func buildTerms(currentSeat string, proposedSeats []string) []weightedTerm {
	terms := make([]weightedTerm, 0, len(baseTerms)+8)
	for _, t := range baseTerms {
		terms = append(terms, weightedTerm{t.term, t.weight})
	}
	seats := make([]string, 0, 1+len(proposedSeats))
	if currentSeat != "" {
		seats = append(seats, currentSeat)
	}
	seats = append(seats, proposedSeats...)
	for _, s := range seats {
		for _, tok := range seatTokens(s) {
			terms = append(terms, weightedTerm{tok, 3})
		}
	}
	return terms
}

func scorePage(text string, terms []weightedTerm) int {
	t := strings.ToLower(text)
	score := 0
	for _, wt := range terms {
		if wt.term == "" {
			continue
		}
		score += wt.weight * strings.Count(t, wt.term)
	}
	return score
}

// SelectEvidence returns the top-maxPages most relevant page excerpts across
// all documents for the seat question. The scoring contract is shared by the
// field extractor and the decision engine so results are reproducible for the
// same inputs: weighted term counts, a +20 bonus for pages literally defining
// the seat, pages scoring <= 0 dropped, stable descending order, excerpts
// capped at excerptChars, one excerpt per (document, page).
func SelectEvidence(docs []DocText, currentSeat string, proposedSeats []string, maxPages, excerptChars int) []EvidenceExcerpt {
	if maxPages <= 0 {
		maxPages = DefaultMaxEvidencePages
	}
	if excerptChars <= 0 {
		excerptChars = DefaultExcerptChars
	}
	terms := buildTerms(currentSeat, proposedSeats)

	var scored []EvidenceExcerpt
	for _, doc := range docs {
		for _, pt := range SplitPages(doc.Text) {
			if pt.Text == "" {
				continue
			}
			sc := scorePage(pt.Text, terms)
			lower := strings.ToLower(pt.Text)
			if strings.Contains(lower, "seat of arbitration") || strings.Contains(lower, "place of arbitration") {
				sc += 20
			}
			if sc <= 0 {
				continue
			}
			excerpt := pt.Text
			if len(excerpt) > excerptChars {
				excerpt = cutBytes(excerpt, excerptChars) + truncationMarker
			}
			scored = append(scored, EvidenceExcerpt{Doc: doc.Name, Page: pt.Page, Excerpt: excerpt, Score: sc})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	type pageKey struct {
		doc  string
		page int
	}
	seen := make(map[pageKey]struct{})
	selected := make([]EvidenceExcerpt, 0, maxPages)
	for _, ex := range scored {
		key := pageKey{ex.Doc, ex.Page}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		selected = append(selected, ex)
		if len(selected) >= maxPages {
			break
		}
	}
	return selected
}

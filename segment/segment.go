// Package segment splits normalized contract text into an ordered sequence
// of clauses.
//
// Clause spans partition the source text exactly: contiguous, gap-free,
// non-overlapping, and their union is the full text range. Clause IDs are
// dense ordinals from 0 and define document order. Boundaries come from
// structural markers, tried in order of specificity:
//
//  1. "§" headings at line start (the common Austrian statute/contract style)
//  2. numbered headings ("1.", "Clause 2.", "Article 3)")
//  3. lettered items ("(a)", "(b)")
//  4. blank-line-delimited paragraphs
//
// Text with no detectable boundary at all becomes a single clause, which is
// legal. Only empty (or whitespace-only) input is an error.
package segment

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoClauses is returned when the input text is empty or whitespace-only.
var ErrNoClauses = errors.New("segment: no clauses found in input text")

// Clause is the atomic unit of analysis: a contiguous span of the contract.
// Immutable once created; Text is exactly the source slice [Start:End).
type Clause struct {
	ID    int    `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Heading returns the first line of the clause, trimmed, for display.
func (c Clause) Heading() string {
	line, _, _ := strings.Cut(strings.TrimSpace(c.Text), "\n")
	return strings.TrimSpace(line)
}

var (
	sectionRe  = regexp.MustCompile(`(?m)^§\s*\d+[a-zA-Z]?\b`)
	numberedRe = regexp.MustCompile(`(?m)^\s*(?:Clause|Section|Article|Art\.?|Ziffer|Punkt)?\s*\d+[a-zA-Z]?[.)]\s`)
	letteredRe = regexp.MustCompile(`(?m)^\([a-z]\)\s`)
	blankRe    = regexp.MustCompile(`\n[ \t]*\n`)
)

// Split segments text into ordered clauses covering the whole input.
func Split(text string) ([]Clause, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoClauses
	}

	boundaries := findBoundaries(text)
	return clausesFromBoundaries(text, boundaries), nil
}

// findBoundaries returns sorted start offsets of clause boundaries.
// The offset 0 is always implied and never included.
func findBoundaries(text string) []int {
	for _, re := range []*regexp.Regexp{sectionRe, numberedRe, letteredRe} {
		locs := re.FindAllStringIndex(text, -1)
		if len(locs) >= 2 {
			return startsAfterZero(locs)
		}
		// A single heading still anchors the document if it opens it.
		if len(locs) == 1 && locs[0][0] == 0 {
			break
		}
	}

	// Paragraph fallback: a boundary after each blank-line run.
	var starts []int
	for _, loc := range blankRe.FindAllStringIndex(text, -1) {
		if loc[1] < len(text) {
			starts = append(starts, loc[1])
		}
	}
	return starts
}

func startsAfterZero(locs [][]int) []int {
	var starts []int
	for _, loc := range locs {
		if loc[0] > 0 {
			starts = append(starts, loc[0])
		}
	}
	return starts
}

// clausesFromBoundaries cuts text at each boundary. Every byte of the input
// belongs to exactly one clause.
func clausesFromBoundaries(text string, boundaries []int) []Clause {
	starts := append([]int{0}, boundaries...)
	clauses := make([]Clause, 0, len(starts))
	for i, start := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if start >= end {
			continue
		}
		clauses = append(clauses, Clause{
			ID:    len(clauses),
			Start: start,
			End:   end,
			Text:  text[start:end],
		})
	}
	return clauses
}

// Package chunk splits statute markdown into retrieval passages.
//
// Splitting strategy:
//  1. Split on section headings first (markdown # headings and § lines),
//     so each passage stays inside one provision and keeps its heading
//  2. Pack paragraphs into passages up to MaxTokens
//  3. Slide a word window with overlap over oversized paragraphs
package chunk

import (
	"regexp"
	"strings"
)

// Options configures passage splitting.
type Options struct {
	// MaxTokens is the maximum number of word tokens per passage. Default: 200.
	MaxTokens int
	// OverlapTokens is the number of tokens carried over between adjacent
	// passages of the same section. Default: 40.
	OverlapTokens int
	// MinTokens is the minimum passage size; shorter tails are merged into
	// the previous passage. Default: 20.
	MinTokens int
}

func (o *Options) defaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 200
	}
	if o.OverlapTokens <= 0 {
		o.OverlapTokens = 40
	}
	if o.OverlapTokens >= o.MaxTokens {
		o.OverlapTokens = o.MaxTokens / 5
	}
	if o.MinTokens <= 0 {
		o.MinTokens = 20
	}
}

// Piece is one passage with its provenance inside the source document.
type Piece struct {
	Index   int    // 0-based position in the document
	Heading string // nearest enclosing section heading, may be empty
	Text    string
	Tokens  int
}

var headingRe = regexp.MustCompile(`(?m)^(?:#{1,6}\s+\S.*|§\s*\d+[a-zA-Z]?\b.*|Art(?:ikel|\.)\s*\d+.*)$`)

// Split divides statute text into passages. Empty or whitespace-only input
// yields nil.
func Split(text string, opts Options) []Piece {
	opts.defaults()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var pieces []Piece
	for _, sec := range sections(text) {
		for _, passage := range packSection(sec.body, opts) {
			pieces = append(pieces, Piece{
				Index:   len(pieces),
				Heading: sec.heading,
				Text:    passage,
				Tokens:  countTokens(passage),
			})
		}
	}
	return pieces
}

type section struct {
	heading string
	body    string
}

// sections cuts the document at heading lines. The heading line stays part
// of its section body so the provision number survives into the passage.
func sections(text string) []section {
	locs := headingRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []section{{body: text}}
	}

	var out []section
	if head := strings.TrimSpace(text[:locs[0][0]]); head != "" {
		out = append(out, section{body: head})
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[0]:end])
		if body == "" {
			continue
		}
		heading := strings.TrimSpace(strings.TrimLeft(text[loc[0]:loc[1]], "# "))
		out = append(out, section{heading: heading, body: body})
	}
	return out
}

// packSection packs a section's paragraphs into passages under MaxTokens,
// overlapping adjacent passages and folding undersized tails into their
// predecessor.
func packSection(body string, opts Options) []string {
	if countTokens(body) <= opts.MaxTokens {
		return []string{body}
	}

	var passages []string
	var buf []string
	bufTokens := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		text := strings.Join(buf, "\n\n")
		if countTokens(text) < opts.MinTokens && len(passages) > 0 {
			passages[len(passages)-1] += "\n\n" + text
		} else {
			passages = append(passages, text)
		}
		buf = nil
		bufTokens = 0
	}

	for _, para := range paragraphs(body) {
		n := countTokens(para)
		if n > opts.MaxTokens {
			flush()
			passages = append(passages, window(strings.Fields(para), opts)...)
			continue
		}
		if bufTokens+n > opts.MaxTokens {
			tail := lastTokens(strings.Join(buf, " "), opts.OverlapTokens)
			flush()
			if tail != "" {
				buf = []string{tail}
				bufTokens = countTokens(tail)
			}
		}
		buf = append(buf, para)
		bufTokens += n
	}
	flush()
	return passages
}

// window slides a fixed-size token window over words.
func window(words []string, opts Options) []string {
	stride := opts.MaxTokens - opts.OverlapTokens
	var out []string
	for start := 0; start < len(words); start += stride {
		end := start + opts.MaxTokens
		if end > len(words) {
			end = len(words)
		}
		if end-start < opts.MinTokens && len(out) > 0 {
			out[len(out)-1] += " " + strings.Join(words[start:end], " ")
			break
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func countTokens(text string) int {
	return len(strings.Fields(text))
}

func lastTokens(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}

// CountTokens reports the approximate token count of text (word count).
func CountTokens(text string) int {
	return countTokens(text)
}

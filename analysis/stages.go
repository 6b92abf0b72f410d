package analysis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/completion"
)

// Stage results are passed forward explicitly (summary → hits → risk →
// suggestion). Each function is a pure transform over its inputs plus the
// completion capability; nothing is shared or mutated between stages, which
// keeps every committed version immutable.

const analystSystem = "You are a legal analyst reviewing rental contract clauses " +
	"against statutes and case law. Be precise and cite only the source material given."

func summarizePrompt(clauseID int, text string) completion.Request {
	return completion.Request{
		System: analystSystem,
		Prompt: fmt.Sprintf("Clause %d:\n%s\n\nSummarize the clause obligations and parties.",
			clauseID, text),
		MaxTokens: 256,
	}
}

func riskPrompt(summary string, hits []authindex.Hit) completion.Request {
	grounding := make([]string, len(hits))
	for i, h := range hits {
		grounding[i] = fmt.Sprintf("(%s) %s: %s", h.Ref, h.Title, h.Text)
	}
	return completion.Request{
		System: analystSystem,
		Prompt: "Given this clause summary:\n" + summary +
			"\n\nIdentify and score the legal risk. Reply with a line" +
			" \"risk_score: <value between 0 and 1>\" followed by a short rationale" +
			" that references the source passages by their (ref).",
		Grounding: grounding,
		MaxTokens: 512,
	}
}

func improvePrompt(summary, rationale string, hits []authindex.Hit) completion.Request {
	grounding := make([]string, len(hits))
	for i, h := range hits {
		grounding[i] = fmt.Sprintf("(%s) %s: %s", h.Ref, h.Title, h.Text)
	}
	return completion.Request{
		System: analystSystem,
		Prompt: "Clause summary:\n" + summary +
			"\nRisk assessment:\n" + rationale +
			"\n\nSuggest an alternative clause wording to mitigate these risks." +
			" Reference the source passages you rely on by their (ref).",
		Grounding: grounding,
		MaxTokens: 512,
	}
}

var (
	scoreLineRe = regexp.MustCompile(`(?i)risk[_\s]?score\s*[:=]\s*([0-9]*\.?[0-9]+)`)
	numberRe    = regexp.MustCompile(`[0-9]*\.?[0-9]+`)
)

// parseRiskScore extracts a risk score in [0,1] from the completion output.
// Scores on a 1-5 or 0-10 scale are normalized. When no number can be found
// at all, the clause is scored 1.0: an unparseable assessment is treated as
// maximally risky rather than silently safe.
func parseRiskScore(text string) float64 {
	var raw string
	if m := scoreLineRe.FindStringSubmatch(text); m != nil {
		raw = m[1]
	} else if m := numberRe.FindString(text); m != "" {
		raw = m
	} else {
		return 1.0
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 1.0
	}
	switch {
	case v <= 1:
		// already normalized
	case v <= 5:
		v /= 5
	case v <= 10:
		v /= 10
	default:
		v = 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

// ensureRationaleCitations guarantees that a material-risk rationale
// references at least one retrieved hit. If the model output does not name
// any ref, the top hits are appended explicitly.
func ensureRationaleCitations(rationale string, hits []authindex.Hit) string {
	if len(hits) == 0 {
		return rationale
	}
	for _, h := range hits {
		if strings.Contains(rationale, h.Ref) {
			return rationale
		}
	}
	refs := make([]string, 0, 3)
	for i, h := range hits {
		if i == 3 {
			break
		}
		refs = append(refs, h.Ref)
	}
	return rationale + "\n\nAuthorities considered: " + strings.Join(refs, ", ")
}

// extractCitations returns the subset of retrieved hits actually referenced
// in the suggestion text, in retrieval order. When the suggestion names none
// of them, the top hit is used — a suggested change is never left without a
// traceable authority.
func extractCitations(suggestion string, hits []authindex.Hit) []string {
	if len(hits) == 0 {
		return nil
	}
	var refs []string
	for _, h := range hits {
		if strings.Contains(suggestion, h.Ref) {
			refs = append(refs, h.Ref)
		}
	}
	if len(refs) == 0 {
		refs = []string{hits[0].Ref}
	}
	return refs
}

// noChangeSuggestion marks a below-threshold clause where rewording is
// optional and none was produced.
const noChangeSuggestion = ""

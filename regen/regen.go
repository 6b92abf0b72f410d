// Package regen assembles the revised contract from the clauses, their
// latest analyses and the recorded decisions. It is pure: the same snapshot
// always yields the same revision, byte for byte.
package regen

import (
	"strings"

	"github.com/clauseguard/clauseguard/analysis"
	"github.com/clauseguard/clauseguard/decision"
	"github.com/clauseguard/clauseguard/segment"
)

// Provenance explains where a revised clause's text comes from.
type Provenance string

const (
	// Unchanged means the original wording stands: nothing was accepted.
	Unchanged Provenance = "unchanged"

	// Accepted means the reviewer accepted a rewording, which replaces the
	// original text.
	Accepted Provenance = "suggested-and-accepted"

	// AnalysisFailed means the clause could not be analyzed. The original
	// wording stands, flagged so it is never mistaken for a reviewed clause.
	AnalysisFailed Provenance = "analysis-failed"
)

// RevisedClause is one clause of the regenerated contract.
type RevisedClause struct {
	ClauseID   int        `json:"clause_id"`
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
}

// RevisedContract is the regenerated document in clause order.
type RevisedContract struct {
	Clauses []RevisedClause `json:"clauses"`
}

// Render joins the revised clauses back into one document.
func (rc RevisedContract) Render() string {
	parts := make([]string, len(rc.Clauses))
	for i, c := range rc.Clauses {
		parts[i] = strings.TrimRight(c.Text, "\n")
	}
	return strings.Join(parts, "\n\n")
}

// Changed reports how many clauses carry accepted rewordings.
func (rc RevisedContract) Changed() int {
	n := 0
	for _, c := range rc.Clauses {
		if c.Provenance == Accepted {
			n++
		}
	}
	return n
}

// Regenerate builds the revised contract. Accepted decisions substitute their
// resolved wording; everything else keeps the original clause text. Clauses
// whose latest analysis failed are carried through flagged, never dropped.
func Regenerate(clauses []segment.Clause, analyses map[int]*analysis.ClauseAnalysis, decisions []decision.Decision) RevisedContract {
	byClause := make(map[int]decision.Decision, len(decisions))
	for _, d := range decisions {
		byClause[d.ClauseID] = d
	}

	out := RevisedContract{Clauses: make([]RevisedClause, len(clauses))}
	for i, c := range clauses {
		rc := RevisedClause{ClauseID: c.ID, Text: c.Text, Provenance: Unchanged}

		if a := analyses[c.ID]; a != nil && a.Failed {
			rc.Provenance = AnalysisFailed
		} else if d, ok := byClause[c.ID]; ok && d.Status == decision.StatusAccepted {
			rc.Text = d.ResolvedSuggestion
			rc.Provenance = Accepted
		}
		out.Clauses[i] = rc
	}
	return out
}

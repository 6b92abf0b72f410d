// Package report renders the review outcome for two audiences: a lawyer
// report covering the changed clauses with their authorities, and a client
// report paraphrasing every clause in plain language. Both renderers are
// pure functions of the session snapshot.
package report

import (
	"fmt"
	"strings"

	"github.com/clauseguard/clauseguard/analysis"
	"github.com/clauseguard/clauseguard/decision"
	"github.com/clauseguard/clauseguard/regen"
	"github.com/clauseguard/clauseguard/segment"
)

// Audience identifies which reader a report is written for.
type Audience string

const (
	AudienceLawyer Audience = "lawyer"
	AudienceClient Audience = "client"
)

// Citation is one authority backing a clause change.
type Citation struct {
	Ref          string `json:"ref"`
	Title        string `json:"title"`
	Jurisdiction string `json:"jurisdiction"`
}

// Section covers one clause.
type Section struct {
	ClauseID  int        `json:"clause_id"`
	Original  string     `json:"original,omitempty"`
	Revised   string     `json:"revised,omitempty"`
	Narrative string     `json:"narrative"`
	Citations []Citation `json:"citations,omitempty"`
	Failed    bool       `json:"failed,omitempty"`
}

// Report is a rendered review outcome.
type Report struct {
	Audience Audience  `json:"audience"`
	Sections []Section `json:"sections"`
}

// Snapshot is the session state both renderers read.
type Snapshot struct {
	Clauses   []segment.Clause
	Analyses  map[int]*analysis.ClauseAnalysis
	Decisions []decision.Decision
	Revised   regen.RevisedContract
}

func (s Snapshot) decisionFor(clauseID int) (decision.Decision, bool) {
	for _, d := range s.Decisions {
		if d.ClauseID == clauseID {
			return d, true
		}
	}
	return decision.Decision{}, false
}

// citationsFor resolves a clause's citation refs against its retrieved hits,
// so every cited authority carries its title and jurisdiction. Refs without
// a matching hit are dropped rather than rendered bare.
func citationsFor(a *analysis.ClauseAnalysis) []Citation {
	if a == nil {
		return nil
	}
	byRef := make(map[string]Citation, len(a.Hits))
	for _, h := range a.Hits {
		byRef[h.Ref] = Citation{Ref: h.Ref, Title: h.Title, Jurisdiction: h.Jurisdiction}
	}
	var out []Citation
	for _, ref := range a.Citations {
		if c, ok := byRef[ref]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Lawyer renders the changed-clauses report: every accepted rewording with
// its original text, the risk rationale, and the full cited authority set.
// Clauses whose analysis failed get their own section so the lawyer knows
// which parts of the contract were never reviewed.
func Lawyer(s Snapshot) Report {
	r := Report{Audience: AudienceLawyer}
	for i, c := range s.Clauses {
		a := s.Analyses[c.ID]
		rev := revisedClause(s.Revised, i, c)

		switch {
		case a != nil && a.Failed:
			r.Sections = append(r.Sections, Section{
				ClauseID:  c.ID,
				Original:  c.Text,
				Narrative: "Analysis failed; this clause was not reviewed: " + a.FailReason,
				Failed:    true,
			})
		case rev.Provenance == regen.Accepted:
			sec := Section{
				ClauseID:  c.ID,
				Original:  c.Text,
				Revised:   rev.Text,
				Citations: citationsFor(a),
			}
			if a != nil {
				sec.Narrative = a.RiskRationale
			}
			r.Sections = append(r.Sections, sec)
		}
	}
	return r
}

// Client renders one plain-language section per clause, in clause order,
// without citations.
func Client(s Snapshot) Report {
	r := Report{Audience: AudienceClient}
	for i, c := range s.Clauses {
		a := s.Analyses[c.ID]
		rev := revisedClause(s.Revised, i, c)

		sec := Section{ClauseID: c.ID}
		switch {
		case a != nil && a.Failed:
			sec.Narrative = "We could not review this clause. Please have it checked separately."
			sec.Failed = true
		case rev.Provenance == regen.Accepted:
			sec.Narrative = clientNarrative(a) + " We suggested new wording and you accepted it."
			sec.Revised = rev.Text
		default:
			sec.Narrative = clientNarrative(a)
			if d, ok := s.decisionFor(c.ID); ok && d.Status == decision.StatusRejected {
				sec.Narrative += " You chose to keep the original wording."
			}
		}
		r.Sections = append(r.Sections, sec)
	}
	return r
}

func clientNarrative(a *analysis.ClauseAnalysis) string {
	if a == nil || a.Summary == "" {
		return "This clause was not analyzed."
	}
	return "In plain terms: " + strings.TrimSpace(a.Summary)
}

func revisedClause(rc regen.RevisedContract, i int, c segment.Clause) regen.RevisedClause {
	if i < len(rc.Clauses) && rc.Clauses[i].ClauseID == c.ID {
		return rc.Clauses[i]
	}
	return regen.RevisedClause{ClauseID: c.ID, Text: c.Text, Provenance: regen.Unchanged}
}

// Render formats the report as markdown. Rendering is deterministic: the
// same snapshot always produces identical bytes.
func (r Report) Render() string {
	var b strings.Builder
	switch r.Audience {
	case AudienceLawyer:
		b.WriteString("# Clause Review — Lawyer Report\n")
	default:
		b.WriteString("# Your Contract Review\n")
	}

	for _, sec := range r.Sections {
		fmt.Fprintf(&b, "\n## Clause %d\n", sec.ClauseID+1)
		if sec.Failed {
			b.WriteString("**Not reviewed.** ")
		}
		b.WriteString(sec.Narrative)
		b.WriteString("\n")
		if sec.Original != "" && sec.Revised != "" {
			fmt.Fprintf(&b, "\nOriginal:\n> %s\n\nRevised:\n> %s\n", sec.Original, sec.Revised)
		}
		if len(sec.Citations) > 0 {
			b.WriteString("\nAuthorities:\n")
			for _, c := range sec.Citations {
				fmt.Fprintf(&b, "- %s (%s, %s)\n", c.Ref, c.Title, c.Jurisdiction)
			}
		}
	}
	return b.String()
}

package regen

import (
	"testing"

	"github.com/clauseguard/clauseguard/analysis"
	"github.com/clauseguard/clauseguard/decision"
	"github.com/clauseguard/clauseguard/segment"
)

var testClauses = []segment.Clause{
	{ID: 0, Text: "1. Rent is due monthly in advance."},
	{ID: 1, Text: "2. The tenant waives all repairs."},
	{ID: 2, Text: "3. Notice period is three months."},
}

func TestRegenerate_AcceptedReplacesText(t *testing.T) {
	decisions := []decision.Decision{
		{ClauseID: 1, Status: decision.StatusAccepted, ResolvedSuggestion: "2. The landlord maintains the property."},
		{ClauseID: 2, Status: decision.StatusRejected},
	}

	rc := Regenerate(testClauses, nil, decisions)
	if len(rc.Clauses) != 3 {
		t.Fatalf("clauses: got %d, want 3", len(rc.Clauses))
	}

	want := []struct {
		text string
		prov Provenance
	}{
		{testClauses[0].Text, Unchanged},
		{"2. The landlord maintains the property.", Accepted},
		{testClauses[2].Text, Unchanged},
	}
	for i, w := range want {
		got := rc.Clauses[i]
		if got.Text != w.text || got.Provenance != w.prov {
			t.Errorf("clause %d: got (%q, %s), want (%q, %s)",
				i, got.Text, got.Provenance, w.text, w.prov)
		}
	}
	if rc.Changed() != 1 {
		t.Errorf("changed: got %d, want 1", rc.Changed())
	}
}

func TestRegenerate_FailedAnalysisKeptAndFlagged(t *testing.T) {
	analyses := map[int]*analysis.ClauseAnalysis{
		1: {ClauseID: 1, Failed: true, FailReason: "backend down"},
	}

	rc := Regenerate(testClauses, analyses, nil)
	c := rc.Clauses[1]
	if c.Text != testClauses[1].Text {
		t.Errorf("failed clause text changed: %q", c.Text)
	}
	if c.Provenance != AnalysisFailed {
		t.Errorf("failed clause provenance: %s", c.Provenance)
	}
}

func TestRegenerate_NoDecisionsIsIdentity(t *testing.T) {
	rc := Regenerate(testClauses, nil, nil)
	for i, c := range rc.Clauses {
		if c.Text != testClauses[i].Text || c.Provenance != Unchanged {
			t.Errorf("clause %d altered without decisions: %+v", i, c)
		}
	}
}

func TestRegenerate_Idempotent(t *testing.T) {
	decisions := []decision.Decision{
		{ClauseID: 0, Status: decision.StatusAccepted, ResolvedSuggestion: "1. Rent is due monthly."},
	}
	analyses := map[int]*analysis.ClauseAnalysis{
		2: {ClauseID: 2, Failed: true},
	}

	first := Regenerate(testClauses, analyses, decisions).Render()
	second := Regenerate(testClauses, analyses, decisions).Render()
	if first != second {
		t.Errorf("regeneration not byte-identical:\n%q\n%q", first, second)
	}
}

func TestRender_JoinsInOrder(t *testing.T) {
	rc := Regenerate(testClauses[:2], nil, nil)
	want := testClauses[0].Text + "\n\n" + testClauses[1].Text
	if got := rc.Render(); got != want {
		t.Errorf("render:\ngot  %q\nwant %q", got, want)
	}
}

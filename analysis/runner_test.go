package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/completion"
	"github.com/clauseguard/clauseguard/dbopen"
	"github.com/clauseguard/clauseguard/segment"
)

// stubCompleter routes each prompt to a canned response.
type stubCompleter struct {
	fn func(req completion.Request) (string, error)
}

func (s *stubCompleter) Complete(ctx context.Context, req completion.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.fn(req)
}
func (s *stubCompleter) Model() string { return "stub" }

// stubSearcher returns fixed hits for every query.
type stubSearcher struct {
	hits []authindex.Hit
	err  error
}

func (s *stubSearcher) Search(_ context.Context, _ authindex.Query) ([]authindex.Hit, error) {
	return s.hits, s.err
}

var testHits = []authindex.Hit{
	{Ref: "mrg#16", Title: "MRG §16", Jurisdiction: "AT", Text: "rent limits", Score: 0.9},
	{Ref: "kschg#6", Title: "KSchG §6", Jurisdiction: "AT", Text: "unfair terms", Score: 0.8},
}

// scriptedCompleter answers by stage, recognized from the prompt shape.
func scriptedCompleter(riskLine, suggestion string) *stubCompleter {
	return &stubCompleter{fn: func(req completion.Request) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "Summarize the clause"):
			return "Tenant must pay rent monthly; landlord provides the flat.", nil
		case strings.Contains(req.Prompt, "score the legal risk"):
			return riskLine, nil
		case strings.Contains(req.Prompt, "alternative clause wording"):
			return suggestion, nil
		default:
			return "", fmt.Errorf("unexpected prompt: %s", req.Prompt)
		}
	}}
}

func testRunner(t *testing.T, c completion.Completer, s Searcher) (*Runner, *Store) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(c, s, store, Config{Backoff: time.Millisecond, StageTimeout: time.Second})
	return r, store
}

var testClause = segment.Clause{ID: 0, Start: 0, End: 20, Text: "Rent is due monthly."}

func TestRunClause_StageOrder(t *testing.T) {
	r, _ := testRunner(t,
		scriptedCompleter("risk_score: 0.8\nrisk of excessive rent (mrg#16)", "new wording per (mrg#16)"),
		&stubSearcher{hits: testHits})

	a, err := r.RunClause(context.Background(), testClause)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{StageSummarize, StageRetrieve, StageEvaluate, StageSuggest}
	if len(a.Stages) != len(want) {
		t.Fatalf("stages: got %d, want %d", len(a.Stages), len(want))
	}
	for i, st := range a.Stages {
		if st.Name != want[i] {
			t.Errorf("stage %d: got %s, want %s", i, st.Name, want[i])
		}
		if i > 0 && st.StartedAt.Before(a.Stages[i-1].FinishedAt) {
			t.Errorf("stage %s started before %s finished", st.Name, a.Stages[i-1].Name)
		}
	}
}

func TestRunClause_MaterialRiskCitesHit(t *testing.T) {
	// The model rationale names no ref; the runner must still anchor it.
	r, _ := testRunner(t,
		scriptedCompleter("risk_score: 0.8\nthis clause is risky", "reword it"),
		&stubSearcher{hits: testHits})

	a, err := r.RunClause(context.Background(), testClause)
	if err != nil {
		t.Fatal(err)
	}
	if a.RiskScore != 0.8 {
		t.Errorf("risk score: got %v, want 0.8", a.RiskScore)
	}
	cited := false
	for _, h := range testHits {
		if strings.Contains(a.RiskRationale, h.Ref) {
			cited = true
		}
	}
	if !cited {
		t.Errorf("material rationale cites no retrieved hit: %q", a.RiskRationale)
	}
	if len(a.Citations) == 0 {
		t.Error("suggestion has no citations")
	}
	hitRefs := map[string]bool{}
	for _, h := range a.Hits {
		hitRefs[h.Ref] = true
	}
	for _, ref := range a.Citations {
		if !hitRefs[ref] {
			t.Errorf("citation %s not among retrieved hits", ref)
		}
	}
}

func TestRunClause_BelowThresholdSkipsSuggestion(t *testing.T) {
	r, _ := testRunner(t,
		scriptedCompleter("risk_score: 0.2\nlooks fine", "should not be asked"),
		&stubSearcher{hits: testHits})

	a, err := r.RunClause(context.Background(), testClause)
	if err != nil {
		t.Fatal(err)
	}
	if a.Suggestion != "" {
		t.Errorf("below threshold: suggestion %q, want none", a.Suggestion)
	}
	if len(a.Stages) != 3 {
		t.Errorf("stages: got %d, want 3 (no suggest stage)", len(a.Stages))
	}
}

func TestRunClause_TransientFailureRetries(t *testing.T) {
	calls := 0
	inner := scriptedCompleter("risk_score: 0.1\nok", "")
	flaky := &stubCompleter{fn: func(req completion.Request) (string, error) {
		calls++
		if calls <= 2 {
			return "", fmt.Errorf("%w: connection refused", completion.ErrUnavailable)
		}
		return inner.fn(req)
	}}

	r, _ := testRunner(t, flaky, &stubSearcher{hits: testHits})
	a, err := r.RunClause(context.Background(), testClause)
	if err != nil {
		t.Fatal(err)
	}
	if a.Failed {
		t.Errorf("analysis failed despite successful retry: %s", a.FailReason)
	}
}

func TestRunClause_ExhaustedRetriesCommitFailedVersion(t *testing.T) {
	down := &stubCompleter{fn: func(completion.Request) (string, error) {
		return "", fmt.Errorf("%w: backend down", completion.ErrUnavailable)
	}}

	r, store := testRunner(t, down, &stubSearcher{hits: testHits})
	a, err := r.RunClause(context.Background(), testClause)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Failed {
		t.Fatal("expected failed analysis")
	}

	latest, err := store.Latest(context.Background(), testClause.ID)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || !latest.Failed {
		t.Error("failed version not visible in store")
	}
}

func TestRunClause_CancellationCommitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, store := testRunner(t,
		scriptedCompleter("risk_score: 0.8\nx", "y"),
		&stubSearcher{hits: testHits})

	if _, err := r.RunClause(ctx, testClause); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	latest, err := store.Latest(context.Background(), testClause.ID)
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Error("cancelled run left a visible version")
	}
}

func TestRunAll_PartialFailure(t *testing.T) {
	inner := scriptedCompleter("risk_score: 0.6\nrisk (mrg#16)", "reword (mrg#16)")
	perClause := &stubCompleter{fn: func(req completion.Request) (string, error) {
		if strings.Contains(req.Prompt, "Clause 1:") {
			return "", errors.New("malformed clause") // non-transient
		}
		return inner.fn(req)
	}}

	r, _ := testRunner(t, perClause, &stubSearcher{hits: testHits})
	clauses := []segment.Clause{
		{ID: 0, Text: "Clause A."},
		{ID: 1, Text: "Clause B."},
		{ID: 2, Text: "Clause C."},
	}
	results, err := r.RunAll(context.Background(), clauses)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results: got %d, want 3", len(results))
	}
	if results[0].Failed || results[2].Failed {
		t.Error("healthy clauses marked failed")
	}
	if !results[1].Failed {
		t.Error("clause 1 should be marked failed, not silently skipped")
	}
}

func TestRunClause_Versioning(t *testing.T) {
	r, store := testRunner(t,
		scriptedCompleter("risk_score: 0.7\nrisk (mrg#16)", "reword (kschg#6)"),
		&stubSearcher{hits: testHits})
	ctx := context.Background()

	a1, err := r.RunClause(ctx, testClause)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := r.RunClause(ctx, testClause)
	if err != nil {
		t.Fatal(err)
	}
	if a1.Version != 1 || a2.Version != 2 {
		t.Errorf("versions: got %d then %d, want 1 then 2", a1.Version, a2.Version)
	}

	latest, err := store.Latest(ctx, testClause.ID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 2 {
		t.Errorf("latest: got version %d, want 2", latest.Version)
	}
}

func TestParseRiskScore(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"risk_score: 0.8\nrationale", 0.8},
		{"Risk Score = 0.35", 0.35},
		{"risk_score: 3\non a 1-5 scale", 0.6},
		{"the risk is 7 out of 10", 0.7},
		{"no numbers here at all", 1.0},
		{"risk_score: 1", 1.0},
		{"risk_score: 0", 0.0},
	}
	for _, c := range cases {
		if got := parseRiskScore(c.in); got != c.want {
			t.Errorf("parseRiskScore(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

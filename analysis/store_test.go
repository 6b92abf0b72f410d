package analysis

import (
	"context"
	"testing"

	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/dbopen"
)

func testAnalysis(clauseID int) *ClauseAnalysis {
	return &ClauseAnalysis{
		ClauseID:      clauseID,
		Summary:       "tenant pays rent",
		RiskScore:     0.8,
		RiskRationale: "excessive rent (mrg#16)",
		Suggestion:    "cap the rent per mrg#16",
		Citations:     []string{"mrg#16"},
		Hits: []authindex.Hit{
			{Ref: "mrg#16", Title: "MRG §16", Jurisdiction: "AT", Text: "rent limits", Score: 0.9},
			{Ref: "kschg#6", Title: "KSchG §6", Jurisdiction: "AT", Text: "unfair terms", Score: 0.7},
		},
	}
}

func TestStore_CommitRoundTrip(t *testing.T) {
	db := dbopen.OpenMemory(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	in := testAnalysis(3)
	if err := store.Commit(ctx, in); err != nil {
		t.Fatal(err)
	}
	if in.Version != 1 {
		t.Fatalf("first commit version: got %d, want 1", in.Version)
	}

	out, err := store.Get(ctx, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil {
		t.Fatal("committed version not found")
	}
	if out.Summary != in.Summary || out.RiskScore != in.RiskScore ||
		out.Suggestion != in.Suggestion || out.RiskRationale != in.RiskRationale {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if len(out.Hits) != 2 || out.Hits[0].Ref != "mrg#16" || out.Hits[1].Ref != "kschg#6" {
		t.Errorf("hits not preserved in order: %+v", out.Hits)
	}
	if len(out.Citations) != 1 || out.Citations[0] != "mrg#16" {
		t.Errorf("citations: %+v", out.Citations)
	}
	if out.CreatedAt == 0 {
		t.Error("created_at not set")
	}
}

func TestStore_VersionsAccumulate(t *testing.T) {
	db := dbopen.OpenMemory(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a := testAnalysis(0)
		a.Summary += string(rune('a' + i))
		if err := store.Commit(ctx, a); err != nil {
			t.Fatal(err)
		}
		if a.Version != i+1 {
			t.Fatalf("commit %d: version %d", i, a.Version)
		}
	}

	// Earlier versions stay readable after later commits.
	v1, err := store.Get(ctx, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v1 == nil || v1.Version != 1 || v1.Summary != "tenant pays renta" {
		t.Errorf("version 1 not retained: %+v", v1)
	}

	latest, err := store.Latest(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Version != 3 {
		t.Fatalf("latest: %+v", latest)
	}
}

func TestStore_LatestEmpty(t *testing.T) {
	db := dbopen.OpenMemory(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}

	latest, err := store.Latest(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Errorf("expected no version for unanalyzed clause, got %+v", latest)
	}
}

func TestStore_LatestAll(t *testing.T) {
	db := dbopen.OpenMemory(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, id := range []int{0, 1} {
		if err := store.Commit(ctx, testAnalysis(id)); err != nil {
			t.Fatal(err)
		}
	}
	second := testAnalysis(0)
	second.RiskScore = 0.2
	if err := store.Commit(ctx, second); err != nil {
		t.Fatal(err)
	}

	all, err := store.LatestAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("latest all: got %d clauses, want 2", len(all))
	}
	if all[0].Version != 2 || all[0].RiskScore != 0.2 {
		t.Errorf("clause 0 latest: %+v", all[0])
	}
	if all[1].Version != 1 {
		t.Errorf("clause 1 latest: %+v", all[1])
	}
}

func TestStore_FailedVersion(t *testing.T) {
	db := dbopen.OpenMemory(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a := &ClauseAnalysis{ClauseID: 5, Failed: true, FailReason: "completion backend unavailable"}
	if err := store.Commit(ctx, a); err != nil {
		t.Fatal(err)
	}

	out, err := store.Latest(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Failed || out.FailReason != a.FailReason {
		t.Errorf("failed flag not preserved: %+v", out)
	}
}

func TestStore_OnCommitFires(t *testing.T) {
	db := dbopen.OpenMemory(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var gotClause, gotVersion int
	calls := 0
	store.SetOnCommit(func(clauseID, version int) {
		gotClause, gotVersion = clauseID, version
		calls++
	})

	if err := store.Commit(ctx, testAnalysis(7)); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(ctx, testAnalysis(7)); err != nil {
		t.Fatal(err)
	}
	if calls != 2 || gotClause != 7 || gotVersion != 2 {
		t.Errorf("on-commit: calls=%d clause=%d version=%d", calls, gotClause, gotVersion)
	}
}

package authindex

import (
	"context"
	"testing"

	"github.com/clauseguard/clauseguard/dbopen"
	"github.com/clauseguard/clauseguard/embedding"
)

func testStore(t *testing.T) (*Store, embedding.Embedder) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	emb := embedding.New(embedding.Config{Dimension: 128})
	s, err := NewFromDB(db, emb, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s, emb
}

func embedPassages(t *testing.T, emb embedding.Embedder, ps []Passage) []Passage {
	t.Helper()
	for i := range ps {
		vec, err := emb.Embed(context.Background(), ps[i].Text)
		if err != nil {
			t.Fatal(err)
		}
		ps[i].Vector = vec
	}
	return ps
}

func TestSearch_EmptyCollection(t *testing.T) {
	s, _ := testStore(t)

	hits, err := s.Search(context.Background(), Query{Text: "deposit", TopK: 5})
	if err != nil {
		t.Fatalf("empty collection must not error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits: got %d, want 0", len(hits))
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	s, emb := testStore(t)
	ctx := context.Background()

	ps := embedPassages(t, emb, []Passage{
		{SourceID: "mrg", Offset: 0, Title: "MRG §16", Jurisdiction: "AT", Text: "rent limits for apartments"},
		{SourceID: "mrg", Offset: 1, Title: "MRG §27", Jurisdiction: "AT", Text: "prohibited payments"},
	})

	added, err := s.Upsert(ctx, ps)
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 {
		t.Fatalf("first upsert: got %d, want 2", added)
	}

	added, err = s.Upsert(ctx, ps)
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 {
		t.Errorf("re-upsert: got %d new, want 0", added)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count: got %d, want 2", n)
	}
}

func TestSearch_RanksByRelevance(t *testing.T) {
	s, emb := testStore(t)
	ctx := context.Background()

	ps := embedPassages(t, emb, []Passage{
		{SourceID: "kschg", Offset: 0, Title: "KSchG §6", Jurisdiction: "AT", Text: "security deposit must be returned to the tenant"},
		{SourceID: "gdpr", Offset: 0, Title: "GDPR Art 6", Jurisdiction: "EU", Text: "processing of personal data lawfulness"},
	})
	if _, err := s.Upsert(ctx, ps); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(ctx, Query{Text: "return of the security deposit", TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if hits[0].Ref != "kschg#0" {
		t.Errorf("top hit: got %s, want kschg#0", hits[0].Ref)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not ordered descending at %d", i)
		}
	}
}

func TestUpsert_IncrementalAfterFirstBatch(t *testing.T) {
	s, emb := testStore(t)
	ctx := context.Background()

	first := embedPassages(t, emb, []Passage{
		{SourceID: "mrg", Offset: 0, Title: "MRG §16", Jurisdiction: "AT", Text: "rent limits for apartments"},
		{SourceID: "mrg", Offset: 1, Title: "MRG §27", Jurisdiction: "AT", Text: "prohibited payments"},
	})
	if _, err := s.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := embedPassages(t, emb, []Passage{
		{SourceID: "abgb", Offset: 0, Title: "ABGB §1096", Jurisdiction: "AT", Text: "landlord maintenance duty for the rented object"},
	})
	if _, err := s.Upsert(ctx, second); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(ctx, Query{Text: "landlord maintenance duty for the rented object", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Ref != "abgb#0" {
		t.Fatalf("later batch not retrievable: %+v", hits)
	}
}

func TestNewFromDB_IndexesCommittedRows(t *testing.T) {
	db := dbopen.OpenMemory(t)
	emb := embedding.New(embedding.Config{Dimension: 128})
	ctx := context.Background()

	// Rows committed without a matching ANN write, as left behind by a
	// crash mid-upsert.
	if _, err := db.Exec(schemaPassages); err != nil {
		t.Fatal(err)
	}
	vec, err := emb.Embed(ctx, "security deposit must be returned")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`
		INSERT INTO passages (source_id, offset, title, jurisdiction, text, vector, created_at)
		VALUES ('kschg', 0, 'KSchG §6', 'AT', 'security deposit must be returned', ?, 0)`,
		embedding.Serialize(vec)); err != nil {
		t.Fatal(err)
	}

	s, err := NewFromDB(db, emb, nil)
	if err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search(ctx, Query{Text: "security deposit must be returned", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Ref != "kschg#0" {
		t.Fatalf("orphaned row not reindexed: %+v", hits)
	}
}

func TestSearch_ScoresAreSimilarities(t *testing.T) {
	s, emb := testStore(t)
	ctx := context.Background()

	ps := []Passage{
		{SourceID: "match", Offset: 0, Jurisdiction: "AT", Text: "security deposit repayment after the lease ends"},
		{SourceID: "far", Offset: 0, Jurisdiction: "AT", Text: "zoning permits for commercial construction"},
		{SourceID: "far", Offset: 1, Jurisdiction: "AT", Text: "vehicle registration fees"},
		{SourceID: "far", Offset: 2, Jurisdiction: "AT", Text: "agricultural subsidies payout schedule"},
		{SourceID: "far", Offset: 3, Jurisdiction: "AT", Text: "maritime shipping insurance"},
		{SourceID: "far", Offset: 4, Jurisdiction: "AT", Text: "patent filing deadlines"},
	}
	if _, err := s.Upsert(ctx, embedPassages(t, emb, ps)); err != nil {
		t.Fatal(err)
	}

	// The jurisdiction filter over-fetches, so more candidates than TopK
	// reach the final ranking. The exact match must survive the cut with
	// a cosine score of 1.
	hits, err := s.Search(ctx, Query{
		Text:         "security deposit repayment after the lease ends",
		TopK:         2,
		Jurisdiction: "AT",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits: got %d, want 2", len(hits))
	}
	if hits[0].Ref != "match#0" {
		t.Errorf("top hit: got %s, want match#0", hits[0].Ref)
	}
	if hits[0].Score < 0.99 || hits[0].Score > 1.01 {
		t.Errorf("exact match score: got %v, want ~1", hits[0].Score)
	}
	if hits[1].Score > hits[0].Score {
		t.Error("hits not ordered by descending similarity")
	}
}

func TestSearch_JurisdictionFilter(t *testing.T) {
	s, emb := testStore(t)
	ctx := context.Background()

	ps := embedPassages(t, emb, []Passage{
		{SourceID: "a", Offset: 0, Jurisdiction: "AT", Text: "deposit rules austria"},
		{SourceID: "b", Offset: 0, Jurisdiction: "EU", Text: "deposit rules europe"},
	})
	if _, err := s.Upsert(ctx, ps); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(ctx, Query{Text: "deposit rules", TopK: 5, Jurisdiction: "AT"})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.Jurisdiction != "AT" {
			t.Errorf("filter leak: got jurisdiction %q", h.Jurisdiction)
		}
	}
}

func TestEphemeral_SessionIsolation(t *testing.T) {
	db := dbopen.OpenMemory(t)
	emb := embedding.New(embedding.Config{Dimension: 64})
	ctx := context.Background()

	a, err := NewEphemeral(db, emb, "ses_a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewEphemeral(db, emb, "ses_b")
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Add(ctx, []Entry{{Ref: "ses_a/clause_0", Text: "suggested deposit clause"}}); err != nil {
		t.Fatal(err)
	}

	hits, err := b.Search(ctx, "deposit clause", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("cross-session leak: session b sees %d hits", len(hits))
	}

	hits, err = a.Search(ctx, "deposit clause", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Ref != "ses_a/clause_0" {
		t.Fatalf("own session: got %+v", hits)
	}
}

func TestEphemeral_EmptySearch(t *testing.T) {
	db := dbopen.OpenMemory(t)
	emb := embedding.New(embedding.Config{Dimension: 64})
	e, err := NewEphemeral(db, emb, "ses_x")
	if err != nil {
		t.Fatal(err)
	}
	hits, err := e.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("empty ephemeral must not error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits: got %d, want 0", len(hits))
	}
}

func TestEphemeral_Drop(t *testing.T) {
	db := dbopen.OpenMemory(t)
	emb := embedding.New(embedding.Config{Dimension: 64})
	ctx := context.Background()

	e, err := NewEphemeral(db, emb, "ses_d")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Add(ctx, []Entry{{Ref: "r1", Text: "one"}, {Ref: "r2", Text: "two"}}); err != nil {
		t.Fatal(err)
	}
	if err := e.Drop(ctx); err != nil {
		t.Fatal(err)
	}
	hits, err := e.Search(ctx, "one", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("after drop: got %d hits, want 0", len(hits))
	}
}

func TestRowIDRoundTrip(t *testing.T) {
	for _, id := range []int64{1, 255, 1 << 40} {
		if got := decodeRowID(encodeRowID(id)); got != id {
			t.Errorf("rowid %d: got %d", id, got)
		}
	}
}

// Package authindex implements the similarity-search index over statutory and
// case-law passages.
//
// Two collections exist. The persistent collection is durable and shared
// across sessions: passages live in SQLite and are indexed by a horosvec
// (Vamana+RaBitQ) ANN index in the same database. The ephemeral collection is
// session-scoped, seeded from reviewer-accepted suggestions, and discarded
// with the session; it is small enough for an exact cosine scan.
//
// Both collections resolve queries through an embedding.Embedder. An empty
// collection yields an empty hit list, never an error. Similarity ties are
// broken by insertion order, which makes result order stable across re-runs.
package authindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hazyhaar/horosvec"

	"github.com/clauseguard/clauseguard/dbopen"
	"github.com/clauseguard/clauseguard/embedding"
)

// Passage is one statutory or case-law excerpt. Keyed by SourceID+Offset;
// append-only, created by offline ingestion.
type Passage struct {
	SourceID     string    `json:"source_id"`
	Offset       int       `json:"offset"`
	Title        string    `json:"title"`
	Jurisdiction string    `json:"jurisdiction"`
	Text         string    `json:"text"`
	Vector       []float32 `json:"-"`
}

// Ref returns the stable passage reference used in citations.
func (p Passage) Ref() string { return Ref(p.SourceID, p.Offset) }

// Ref builds a passage reference from its key.
func Ref(sourceID string, offset int) string {
	return fmt.Sprintf("%s#%d", sourceID, offset)
}

// Hit is one retrieval result, ordered descending by score.
// Hits are transient; they are never persisted on their own.
type Hit struct {
	Ref          string  `json:"ref"`
	Title        string  `json:"title"`
	Jurisdiction string  `json:"jurisdiction,omitempty"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}

// Query selects hits from the persistent collection.
type Query struct {
	Text         string
	TopK         int
	Jurisdiction string // optional filter tag
}

// Config configures the persistent store.
type Config struct {
	// DBPath is the SQLite database file holding passages and the ANN index.
	DBPath string `json:"db_path" yaml:"db_path"`

	// CacheSize sets PRAGMA cache_size. Default: -64000 (64 MB).
	CacheSize int `json:"cache_size" yaml:"cache_size"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.CacheSize == 0 {
		c.CacheSize = -64000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is the persistent authority collection.
type Store struct {
	db     *sql.DB
	idx    *horosvec.Index
	emb    embedding.Embedder
	logger *slog.Logger
}

// New opens (or creates) the authority database and its ANN index.
func New(cfg Config, emb embedding.Embedder) (*Store, error) {
	cfg.defaults()

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithCacheSize(cfg.CacheSize),
		dbopen.WithSchema(schemaPassages),
	)
	if err != nil {
		return nil, err
	}

	s, err := NewFromDB(db, emb, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB creates a Store over an existing database (tests, shared handles).
func NewFromDB(db *sql.DB, emb embedding.Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(schemaPassages); err != nil {
		return nil, fmt.Errorf("authindex: schema: %w", err)
	}
	idx, err := horosvec.New(db, horosvec.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("authindex: open ANN index: %w", err)
	}
	s := &Store{db: db, idx: idx, emb: emb, logger: logger}
	if err := s.reconcile(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// reconcile rebuilds the ANN index when it disagrees with the passages
// table, e.g. after a crash between a row commit and the index write.
func (s *Store) reconcile(ctx context.Context) error {
	n, err := s.Count(ctx)
	if err != nil {
		return fmt.Errorf("authindex: count: %w", err)
	}
	if n == 0 || n == s.idx.Count() {
		return nil
	}
	s.logger.Info("rebuilding ANN index", "passages", n, "indexed", s.idx.Count())
	return s.rebuild(ctx)
}

// rebuild batch-builds the ANN index from every stored passage. Authority
// corpora are small enough to hold in memory for the build.
func (s *Store) rebuild(ctx context.Context) error {
	iter, err := newTableIter(ctx, s.db)
	if err != nil {
		return err
	}
	if err := s.idx.Build(ctx, iter); err != nil {
		return fmt.Errorf("authindex: ANN build: %w", err)
	}
	return nil
}

// Close releases the ANN index and the database.
func (s *Store) Close() error {
	if err := s.idx.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// Count returns the number of stored passages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n)
	return n, err
}

// Upsert appends passages to the persistent collection, idempotent by
// source_id+offset. Re-ingesting the same batch adds nothing. Returns the
// number of passages newly added. The persistent collection assumes a single
// concurrent writer (the ingestion batch job).
func (s *Store) Upsert(ctx context.Context, passages []Passage) (int, error) {
	var (
		newVecs [][]float32
		newIDs  [][]byte
	)

	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO passages
				(source_id, offset, title, jurisdiction, text, vector, created_at)
			VALUES (?,?,?,?,?,?, strftime('%s','now'))`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, p := range passages {
			if len(p.Vector) == 0 {
				return fmt.Errorf("passage %s: missing vector", p.Ref())
			}
			res, err := stmt.ExecContext(ctx, p.SourceID, p.Offset, p.Title,
				p.Jurisdiction, p.Text, embedding.Serialize(p.Vector))
			if err != nil {
				return fmt.Errorf("insert passage %s: %w", p.Ref(), err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue // already present
			}
			rowid, err := res.LastInsertId()
			if err != nil {
				return err
			}
			newVecs = append(newVecs, p.Vector)
			newIDs = append(newIDs, encodeRowID(rowid))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(newVecs) == 0 {
		return 0, nil
	}

	// The ANN index takes incremental inserts only once built; the first
	// batch triggers a full build over the table instead. A crash between
	// the row commit and the index write is repaired on the next open.
	if s.idx.Count() == 0 {
		if err := s.rebuild(ctx); err != nil {
			return 0, err
		}
		return len(newVecs), nil
	}
	if err := s.idx.Insert(newVecs, newIDs); err != nil {
		return 0, fmt.Errorf("authindex: ANN insert: %w", err)
	}
	return len(newVecs), nil
}

// Search embeds the query text and returns up to TopK hits ordered by
// descending cosine similarity, ties broken by insertion order. Searching an
// empty collection returns an empty hit list and no error. Embedding failures
// propagate (wrapping embedding.ErrUnavailable) for the caller to retry.
func (s *Store) Search(ctx context.Context, q Query) ([]Hit, error) {
	if q.TopK <= 0 {
		q.TopK = 5
	}
	if s.idx.Count() == 0 {
		return nil, nil
	}

	vec, err := s.emb.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("authindex: embed query: %w", err)
	}

	// Over-fetch when a filter may discard results.
	fetch := q.TopK
	if q.Jurisdiction != "" {
		fetch = q.TopK * 4
	}

	results, err := s.idx.Search(vec, fetch)
	if err != nil {
		return nil, fmt.Errorf("authindex: ANN search: %w", err)
	}

	type ranked struct {
		hit   Hit
		rowid int64
	}
	var out []ranked
	for _, res := range results {
		rowid := decodeRowID(res.ID)
		p, err := s.loadPassage(ctx, rowid)
		if err != nil {
			s.logger.Warn("authindex: dangling ANN node", "rowid", rowid, "error", err)
			continue
		}
		if q.Jurisdiction != "" && p.Jurisdiction != q.Jurisdiction {
			continue
		}
		out = append(out, ranked{
			hit: Hit{
				Ref:          p.Ref(),
				Title:        p.Title,
				Jurisdiction: p.Jurisdiction,
				Text:         p.Text,
				// The ANN index reports squared L2 distance. Vectors are
				// unit length, so this folds into cosine similarity and
				// stays comparable with the ephemeral collection's scores.
				Score: 1 - res.Score/2,
			},
			rowid: rowid,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].hit.Score != out[j].hit.Score {
			return out[i].hit.Score > out[j].hit.Score
		}
		return out[i].rowid < out[j].rowid
	})
	if len(out) > q.TopK {
		out = out[:q.TopK]
	}

	hits := make([]Hit, len(out))
	for i, r := range out {
		hits[i] = r.hit
	}
	return hits, nil
}

func (s *Store) loadPassage(ctx context.Context, rowid int64) (*Passage, error) {
	var p Passage
	err := s.db.QueryRowContext(ctx, `
		SELECT source_id, offset, title, jurisdiction, text
		FROM passages WHERE id = ?`, rowid).
		Scan(&p.SourceID, &p.Offset, &p.Title, &p.Jurisdiction, &p.Text)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// tableIter feeds the passages table to horosvec.Index.Build.
type tableIter struct {
	ids  [][]byte
	vecs [][]float32
	pos  int
}

func newTableIter(ctx context.Context, db *sql.DB) (*tableIter, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, vector FROM passages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("authindex: load vectors: %w", err)
	}
	defer rows.Close()

	var it tableIter
	for rows.Next() {
		var rowid int64
		var blob []byte
		if err := rows.Scan(&rowid, &blob); err != nil {
			return nil, fmt.Errorf("authindex: scan vector: %w", err)
		}
		it.ids = append(it.ids, encodeRowID(rowid))
		it.vecs = append(it.vecs, embedding.Deserialize(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &it, nil
}

func (it *tableIter) Next() ([]byte, []float32, bool) {
	if it.pos >= len(it.ids) {
		return nil, nil, false
	}
	id, vec := it.ids[it.pos], it.vecs[it.pos]
	it.pos++
	return id, vec, true
}

func (it *tableIter) Reset() error {
	it.pos = 0
	return nil
}

func encodeRowID(rowid int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(rowid))
	return b
}

func decodeRowID(id []byte) int64 {
	if len(id) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(id))
}

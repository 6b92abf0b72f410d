package authindex

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/clauseguard/clauseguard/embedding"
)

// Entry is one ephemeral document: a clause suggestion plus enough context to
// ground follow-up answers in it.
type Entry struct {
	Ref   string `json:"ref"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Ephemeral is the session-scoped suggestion collection. It lives in the
// session's shard database and is dropped when the session closes. The data
// set is tiny (one entry per decided clause), so search is an exact cosine
// scan rather than an ANN index.
type Ephemeral struct {
	db        *sql.DB
	emb       embedding.Embedder
	sessionID string
}

// NewEphemeral binds an ephemeral collection to a session. The schema is
// created on first use.
func NewEphemeral(db *sql.DB, emb embedding.Embedder, sessionID string) (*Ephemeral, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("authindex: ephemeral requires a session id")
	}
	if _, err := db.Exec(schemaEphemeral); err != nil {
		return nil, fmt.Errorf("authindex: ephemeral schema: %w", err)
	}
	return &Ephemeral{db: db, emb: emb, sessionID: sessionID}, nil
}

// SessionID returns the owning session.
func (e *Ephemeral) SessionID() string { return e.sessionID }

// Add embeds and stores entries under this collection's session.
func (e *Ephemeral) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	texts := make([]string, len(entries))
	for i, en := range entries {
		texts[i] = en.Text
	}
	vecs, err := e.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("authindex: embed ephemeral entries: %w", err)
	}

	now := time.Now().Unix()
	stmt, err := e.db.PrepareContext(ctx, `
		INSERT INTO ephemeral_entries (session_id, ref, title, text, vector, created_at)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, en := range entries {
		if _, err := stmt.ExecContext(ctx, e.sessionID, en.Ref, en.Title,
			en.Text, embedding.Serialize(vecs[i]), now); err != nil {
			return fmt.Errorf("insert ephemeral %s: %w", en.Ref, err)
		}
	}
	return nil
}

// Search returns up to topK hits for this session only, ordered by descending
// cosine similarity, ties by insertion order. An empty collection yields an
// empty list and no error.
func (e *Ephemeral) Search(ctx context.Context, text string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, ref, title, text, vector
		FROM ephemeral_entries WHERE session_id = ? ORDER BY id`, e.sessionID)
	if err != nil {
		return nil, fmt.Errorf("authindex: ephemeral query: %w", err)
	}
	defer rows.Close()

	type stored struct {
		rowid int64
		hit   Hit
		vec   []float32
	}
	var entries []stored
	for rows.Next() {
		var (
			st   stored
			blob []byte
		)
		if err := rows.Scan(&st.rowid, &st.hit.Ref, &st.hit.Title, &st.hit.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan ephemeral: %w", err)
		}
		st.vec = embedding.Deserialize(blob)
		entries = append(entries, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	qvec, err := e.emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("authindex: embed query: %w", err)
	}

	for i := range entries {
		entries[i].hit.Score = embedding.CosineSimilarity(qvec, entries[i].vec)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].hit.Score != entries[j].hit.Score {
			return entries[i].hit.Score > entries[j].hit.Score
		}
		return entries[i].rowid < entries[j].rowid
	})
	if len(entries) > topK {
		entries = entries[:topK]
	}

	hits := make([]Hit, len(entries))
	for i, en := range entries {
		hits[i] = en.hit
	}
	return hits, nil
}

// Drop deletes every entry belonging to this session.
func (e *Ephemeral) Drop(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx,
		`DELETE FROM ephemeral_entries WHERE session_id = ?`, e.sessionID)
	if err != nil {
		return fmt.Errorf("authindex: drop session %s: %w", e.sessionID, err)
	}
	return nil
}

// Package ingest loads statute pages into the authority index. The offline
// pipeline per source: fetch (scheme and SSRF checked, bounded body) →
// sanitize → markdown → passage chunks → batch embed → upsert. Re-running
// the same sources is safe: passages are keyed by source and offset.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/chunk"
	"github.com/clauseguard/clauseguard/embedding"
	"github.com/clauseguard/clauseguard/websafe"
)

// Source is one statute page to ingest.
type Source struct {
	ID           string `json:"id" yaml:"id"`
	URL          string `json:"url" yaml:"url"`
	Title        string `json:"title" yaml:"title"`
	Jurisdiction string `json:"jurisdiction" yaml:"jurisdiction"`
}

// DefaultSources is the rental-law statute set the review service ships
// with: the Austrian tenancy core plus the GDPR for data clauses.
func DefaultSources() []Source {
	return []Source{
		{ID: "mrg", Title: "Mietrechtsgesetz (MRG)", Jurisdiction: "AT",
			URL: "https://www.ris.bka.gv.at/GeltendeFassung.wxe?Abfrage=Bundesnormen&Gesetzesnummer=10002531"},
		{ID: "abgb", Title: "Allgemeines bürgerliches Gesetzbuch (ABGB)", Jurisdiction: "AT",
			URL: "https://www.ris.bka.gv.at/GeltendeFassung.wxe?Abfrage=Bundesnormen&Gesetzesnummer=10001622"},
		{ID: "kschg", Title: "Konsumentenschutzgesetz (KSchG)", Jurisdiction: "AT",
			URL: "https://www.ris.bka.gv.at/GeltendeFassung.wxe?Abfrage=Bundesnormen&Gesetzesnummer=10002462"},
		{ID: "heizkg", Title: "Heizkostenabrechnungsgesetz (HeizKG)", Jurisdiction: "AT",
			URL: "https://www.ris.bka.gv.at/GeltendeFassung.wxe?Abfrage=Bundesnormen&Gesetzesnummer=10007336"},
		{ID: "gdpr", Title: "General Data Protection Regulation (GDPR)", Jurisdiction: "EU",
			URL: "https://eur-lex.europa.eu/legal-content/EN/TXT/HTML/?uri=CELEX:32016R0679"},
	}
}

// Config tunes the ingester.
type Config struct {
	// UserAgent identifies the fetcher. Default: "clauseguard-ingester/1.0".
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// Timeout bounds each fetch. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxBody caps the fetched page size. Default: websafe.MaxFetchBody.
	MaxBody int64 `json:"max_body" yaml:"max_body"`

	// AllowPrivateHosts admits loopback and private targets, for local
	// statute mirrors.
	AllowPrivateHosts bool `json:"allow_private_hosts" yaml:"allow_private_hosts"`

	// Chunk controls passage splitting.
	Chunk chunk.Options `json:"chunk" yaml:"chunk"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.UserAgent == "" {
		c.UserAgent = "clauseguard-ingester/1.0"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBody <= 0 {
		c.MaxBody = websafe.MaxFetchBody
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ingester fetches statute pages and loads their passages.
type Ingester struct {
	store     *authindex.Store
	emb       embedding.Embedder
	client    *http.Client
	sanitizer *bluemonday.Policy
	validator websafe.Validator
	cfg       Config
}

// New creates an ingester writing into store via emb.
func New(store *authindex.Store, emb embedding.Embedder, cfg Config) *Ingester {
	cfg.defaults()
	return &Ingester{
		store:     store,
		emb:       emb,
		client:    &http.Client{Timeout: cfg.Timeout},
		sanitizer: bluemonday.UGCPolicy(),
		validator: websafe.Validator{AllowPrivate: cfg.AllowPrivateHosts},
		cfg:       cfg,
	}
}

// IngestSources processes each source in order and returns how many passages
// were newly added. A source that fails to fetch or parse is logged and
// skipped; the remaining sources still run.
func (ing *Ingester) IngestSources(ctx context.Context, sources []Source) (int, error) {
	added := 0
	for _, src := range sources {
		n, err := ing.ingestOne(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			ing.cfg.Logger.Warn("source skipped", "source_id", src.ID, "url", src.URL, "error", err)
			continue
		}
		ing.cfg.Logger.Info("source ingested", "source_id", src.ID, "passages_added", n)
		added += n
	}
	return added, nil
}

func (ing *Ingester) ingestOne(ctx context.Context, src Source) (int, error) {
	if src.ID == "" || src.URL == "" {
		return 0, fmt.Errorf("ingest: source needs id and url")
	}

	body, err := ing.fetch(ctx, src.URL)
	if err != nil {
		return 0, err
	}

	text := ing.extract(body)
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("ingest: no text extracted from %s", src.URL)
	}

	pieces := chunk.Split(text, ing.cfg.Chunk)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("ingest: no passages from %s", src.URL)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = embedText(src, p)
	}
	vectors, err := ing.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("ingest: embed %s: %w", src.ID, err)
	}

	passages := make([]authindex.Passage, len(pieces))
	for i, p := range pieces {
		title := src.Title
		if p.Heading != "" {
			title = src.Title + ", " + p.Heading
		}
		passages[i] = authindex.Passage{
			SourceID:     src.ID,
			Offset:       p.Index,
			Title:        title,
			Jurisdiction: src.Jurisdiction,
			Text:         p.Text,
			Vector:       vectors[i],
		}
	}
	return ing.store.Upsert(ctx, passages)
}

// embedText is what the embedder sees for a passage: statute title and
// provision heading in front of the body, so retrieval can match on them.
func embedText(src Source, p chunk.Piece) string {
	var b strings.Builder
	b.WriteString(src.Title)
	if p.Heading != "" {
		b.WriteString(" ")
		b.WriteString(p.Heading)
	}
	b.WriteString("\n")
	b.WriteString(p.Text)
	return b.String()
}

func (ing *Ingester) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ing.validator.Validate(rawURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: build request: %w", err)
	}
	req.Header.Set("User-Agent", ing.cfg.UserAgent)

	resp, err := ing.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: fetch %s: %w", rawURL, err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return websafe.ReadBounded(resp.Body, ing.cfg.MaxBody)
}

// extract sanitizes fetched HTML and converts it to markdown so provision
// structure survives chunking. Conversion failure falls back to the
// sanitized text stripped of tags.
func (ing *Ingester) extract(body []byte) string {
	clean := ing.sanitizer.Sanitize(string(body))

	md, err := htmltomarkdown.ConvertString(clean)
	if err != nil || strings.TrimSpace(md) == "" {
		return fallbackText(clean)
	}
	return strings.TrimSpace(md)
}

package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// hashEmbedder maps tokens to vector buckets by FNV hash. Deterministic and
// dependency-free: two texts sharing words get correlated vectors, which is
// enough for offline development and for exercising the retrieval path in
// tests without an embedding server.
type hashEmbedder struct {
	dim   int
	model string
}

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		f.Write([]byte(strings.Trim(tok, ".,;:()[]\"'")))
		vec[int(f.Sum32())%h.dim]++
	}
	return Normalize(vec), nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) Dimension() int { return h.dim }
func (h *hashEmbedder) Model() string  { return h.model }

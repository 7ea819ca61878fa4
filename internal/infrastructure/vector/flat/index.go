// Package flat is an exact in-memory cosine index over a loaded build.
package flat

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type Index struct {
	info    domain.IndexInfo
	chunks  []domain.Chunk
	vectors [][]float32
	norms   []float64
}

// New takes ownership of chunks and vectors; callers must not modify them afterwards.
func New(info domain.IndexInfo, chunks []domain.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunks/vectors mismatch: %d != %d", len(chunks), len(vectors))
	}
	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		if len(v) != info.Dimension {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), info.Dimension)
		}
		norms[i] = norm(v)
	}
	info.ChunkCount = len(chunks)
	return &Index{info: info, chunks: chunks, vectors: vectors, norms: norms}, nil
}

func (ix *Index) Info() domain.IndexInfo {
	return ix.info
}

// Query returns the k chunks closest to vector by cosine distance, nearest
// first. Equal scores keep insertion order.
func (ix *Index) Query(ctx context.Context, vector []float32, k int) ([]domain.RetrievedChunk, error) {
	if k <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query index", fmt.Errorf("k must be positive, got %d", k))
	}
	if len(vector) != ix.info.Dimension {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query index",
			fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), ix.info.Dimension))
	}

	qn := norm(vector)
	type scored struct {
		pos   int
		score float64
	}
	all := make([]scored, len(ix.vectors))
	for i, v := range ix.vectors {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		all[i] = scored{pos: i, score: cosine(vector, v, qn, ix.norms[i])}
	}
	slices.SortStableFunc(all, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	k = min(k, len(all))
	out := make([]domain.RetrievedChunk, 0, k)
	for _, s := range all[:k] {
		out = append(out, domain.RetrievedChunk{
			Chunk:    ix.chunks[s.pos],
			Score:    s.score,
			Distance: 1 - s.score,
		})
	}
	return out, nil
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

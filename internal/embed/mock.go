package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// MockEmbedder produces deterministic hash-seeded unit vectors. Identical
// text always maps to the identical vector, which is what tests and the
// no-backend dev mode need.
type MockEmbedder struct {
	dimensions int
}

func NewMock(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dimensions)
	for i := range vec {
		// LCG keeps the expansion deterministic from the text hash.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

func (m *MockEmbedder) Dimensions() int { return m.dimensions }

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

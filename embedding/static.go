package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// Static is a deterministic, offline embedding provider. Each token in the
// input hashes to a direction in the vector space and the result is
// L2-normalized, so identical and near-identical texts land close together
// while unrelated texts do not.
//
// It exists for tests, local development, and degraded operation without a
// real embedding service; it is not a semantic model.
type Static struct {
	dim int
}

// NewStatic creates a static provider with the given dimensionality.
func NewStatic(dim int) *Static {
	if dim <= 0 {
		dim = 384
	}
	return &Static{dim: dim}
}

// Embed implements Provider.
func (s *Static) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = s.embedOne(text)
	}
	return out, nil
}

// EmbedQuery implements Provider.
func (s *Static) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return s.embedOne(text), nil
}

// Dimensions implements Provider.
func (s *Static) Dimensions() int {
	return s.dim
}

func (s *Static) embedOne(text string) []float32 {
	vec := make([]float32, s.dim)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		for chunk := 0; chunk+8 <= len(sum); chunk += 8 {
			idx := binary.LittleEndian.Uint64(sum[chunk:chunk+8]) % uint64(s.dim)
			sign := float32(1)
			if sum[chunk]&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

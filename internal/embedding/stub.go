package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/bull/docs-rag/internal/domain"
)

// StubRemote produces deterministic hashed bag-of-words vectors without any network access.
// Texts sharing words end up close in cosine space, which is enough for local runs and tests.
type StubRemote struct {
	dim int
}

// NewStubRemote creates a stub remote. A zero dim defaults to 256.
func NewStubRemote(dim int) *StubRemote {
	if dim <= 0 {
		dim = 256
	}
	return &StubRemote{dim: dim}
}

// Model implements Remote.
func (s *StubRemote) Model() domain.ModelID {
	return domain.ModelID{Name: "stub-bow"}
}

// EmbedBatch implements Remote.
func (s *StubRemote) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vector(t)
	}
	return out, nil
}

func (s *StubRemote) vector(text string) []float32 {
	v := make([]float32, s.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(s.dim)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

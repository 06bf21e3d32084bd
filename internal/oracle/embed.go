package oracle

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/JakeFAU/tender-ingest/internal/textnorm"
)

// Embedder maps texts to vectors for retrieval ranking.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HashingEmbedder is a local bag-of-words embedder using the hashing trick over folded
// tokens. It needs no network and is deterministic.
type HashingEmbedder struct {
	Dims int
}

const defaultDims = 512

// Embed implements Embedder.
func (h HashingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	dims := h.Dims
	if dims <= 0 {
		dims = defaultDims
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dims)
		for _, tok := range tokens(text) {
			hasher := fnv.New32a()
			_, _ = hasher.Write([]byte(tok))
			sum := hasher.Sum32()
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			vec[int(sum>>1)%dims] += sign
		}
		normalize(vec)
		out[i] = vec
	}
	return out, nil
}

func tokens(text string) []string {
	fields := strings.FieldsFunc(textnorm.Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero or their lengths
// differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

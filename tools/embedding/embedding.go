// Package embedding maps article and query text to fixed-length vectors.
package embedding

import (
	"context"
	"math"
)

// Embedder is deterministic for a fixed ModelVersion: the same text always
// yields the same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedMany returns one Result per input, in input order. Per-item
	// failures are reported in Result.Err; the returned error is reserved for
	// the service itself being unavailable.
	EmbedMany(ctx context.Context, texts []string) ([]Result, error)
	Dimensions() int
	ModelVersion() string
}

// Result is the outcome for one input of EmbedMany.
type Result struct {
	Vector []float32
	Err    error
}

// IsZero reports whether v carries no signal. Queries made only of stop
// words or punctuation embed to the zero vector.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

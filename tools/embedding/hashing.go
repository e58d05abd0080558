package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/newsrag/internal/errs"
)

const bigramWeight = 0.5

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {}, "will": {},
	"with": {}, "what": {}, "about": {}, "this": {}, "these": {}, "how": {},
}

// Hashing is a local feature-hashing embedder. Lower-cased unigrams and
// bigrams are hashed with FNV-1a into signed buckets and the result is L2
// normalised. It needs no network and is stable across processes.
type Hashing struct {
	dims int
}

func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = 512
	}
	return &Hashing{dims: dims}
}

func (h *Hashing) Dimensions() int { return h.dims }

func (h *Hashing) ModelVersion() string { return fmt.Sprintf("hashing-v1-d%d", h.dims) }

func (h *Hashing) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.Validation("cannot embed empty text")
	}
	return h.vector(text), nil
}

func (h *Hashing) EmbedMany(ctx context.Context, texts []string) ([]Result, error) {
	out := make([]Result, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, errs.RetrievalUnavailable("embedding cancelled", err)
		}
		out[i].Vector, out[i].Err = h.Embed(ctx, text)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	v := make([]float32, h.dims)
	terms := Tokenize(text)
	for i, term := range terms {
		h.add(v, term, 1)
		if i > 0 {
			h.add(v, terms[i-1]+" "+term, bigramWeight)
		}
	}
	return Normalize(v)
}

func (h *Hashing) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := sum % uint64(h.dims)
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// Tokenize lower-cases text, splits on anything that is not a letter or
// digit and drops stop words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

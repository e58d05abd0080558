package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/newsrag/internal/errs"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashingDeterministicAndNormalised(t *testing.T) {
	h := NewHashing(256)
	ctx := context.Background()

	a, err := h.Embed(ctx, "OpenAI releases a new reasoning model")
	require.NoError(t, err)
	b, err := NewHashing(256).Embed(ctx, "OpenAI releases a new reasoning model")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 256)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
	assert.Equal(t, "hashing-v1-d256", h.ModelVersion())
}

func TestHashingSimilarity(t *testing.T) {
	h := NewHashing(512)
	ctx := context.Background()
	q, _ := h.Embed(ctx, "central bank interest rates")
	near, _ := h.Embed(ctx, "The central bank kept interest rates unchanged")
	far, _ := h.Embed(ctx, "Football club signs striker")
	assert.Greater(t, cosine(q, near), cosine(q, far))
}

func TestHashingStopWordsOnlyIsZero(t *testing.T) {
	v, err := NewHashing(64).Embed(context.Background(), "what is the ...")
	require.NoError(t, err)
	assert.True(t, IsZero(v))
}

func TestHashingEmbedManyReportsPerItem(t *testing.T) {
	res, err := NewHashing(64).EmbedMany(context.Background(), []string{"alpha", "  ", "beta"})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.NoError(t, res[0].Err)
	assert.True(t, errs.IsKind(res[1].Err, errs.KindValidation))
	assert.NoError(t, res[2].Err)
	single, _ := NewHashing(64).Embed(context.Background(), "beta")
	assert.Equal(t, single, res[2].Vector)
}

type fakeClient struct {
	calls   [][]string
	failAt  int
	respond func(texts []string) [][]float32
}

func (f *fakeClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return nil, errors.New("connection reset")
	}
	if f.respond != nil {
		return f.respond(texts), nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0, 0}
	}
	return out, nil
}

func TestProviderBatchesAndPreservesOrder(t *testing.T) {
	client := &fakeClient{}
	p := NewProvider(client, ProviderOptions{Version: "openai:test", Dimensions: 3, BatchSize: 2})

	res, err := p.EmbedMany(context.Background(), []string{"a", "", "bbb", "cc", "dddd"})
	require.NoError(t, err)
	require.Len(t, res, 5)
	assert.Equal(t, [][]string{{"a", "bbb"}, {"cc", "dddd"}}, client.calls)
	assert.True(t, errs.IsKind(res[1].Err, errs.KindValidation))
	for _, i := range []int{0, 2, 3, 4} {
		require.NoError(t, res[i].Err)
		assert.Equal(t, []float32{1, 0, 0}, res[i].Vector, "vectors are unit length")
	}
	assert.Equal(t, "openai:test", p.ModelVersion())
}

func TestProviderWholeFailure(t *testing.T) {
	client := &fakeClient{failAt: 2}
	p := NewProvider(client, ProviderOptions{BatchSize: 1})
	_, err := p.EmbedMany(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRetrievalUnavailable))

	_, err = p.Embed(context.Background(), "c")
	require.NoError(t, err)
}

func TestProviderDimensionMismatch(t *testing.T) {
	client := &fakeClient{respond: func(texts []string) [][]float32 {
		return [][]float32{{1, 2}}
	}}
	p := NewProvider(client, ProviderOptions{Dimensions: 3})
	res, err := p.EmbedMany(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Error(t, res[0].Err)
}

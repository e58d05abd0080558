package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLitePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.db")
	p, err := OpenSQLite(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "v1",
		Record{ArticleID: "b", Vector: []float32{0.5, -0.25}},
		Record{ArticleID: "a", Vector: []float32{1, 0}},
	))
	require.NoError(t, p.Upsert(ctx, "v1", Record{ArticleID: "a", Vector: []float32{0, 1}}))
	require.NoError(t, p.Upsert(ctx, "v2", Record{ArticleID: "a", Vector: []float32{1, 1, 1}}))

	recs, err := p.LoadAll(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ArticleID)
	assert.Equal(t, []float32{0, 1}, recs[0].Vector)
	assert.Equal(t, []float32{0.5, -0.25}, recs[1].Vector)
	assert.Equal(t, "v1", recs[1].ModelVersion)
	require.NoError(t, p.Close())

	// survives reopen
	p, err = OpenSQLite(path)
	require.NoError(t, err)
	defer p.Close()
	recs, err = p.LoadAll(ctx, "v2")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Vector, 3)

	require.NoError(t, p.Remove(ctx, "a", "missing"))
	recs, err = p.LoadAll(ctx, "v2")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLitePersisterReplaceAllDropsOtherVersions(t *testing.T) {
	p, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "old", Record{ArticleID: "a", Vector: []float32{1}}))
	require.NoError(t, p.ReplaceAll(ctx, "new", []Record{{ArticleID: "b", Vector: []float32{1, 2}}}))

	old, err := p.LoadAll(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, old)
	cur, err := p.LoadAll(ctx, "new")
	require.NoError(t, err)
	require.Len(t, cur, 1)
	assert.Equal(t, "b", cur[0].ArticleID)
}

func TestFloat32Codec(t *testing.T) {
	in := []float32{0, -1.5, 3.25e-7, 42}
	out, err := decodeFloat32s(encodeFloat32s(in), len(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	_, err = decodeFloat32s([]byte{1, 2, 3}, 1)
	assert.Error(t, err)
}

package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddings records sub-batch calls and returns deterministic
// vectors derived from the input text length.
type fakeEmbeddings struct {
	dimensions int
	calls      [][]string
	failAfter  int // fail on call number failAfter (1-based), 0 = never
}

func (f *fakeEmbeddings) GenerateEmbeddingsBatch(ctx context.Context, texts []string, model string, dimensions int) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.failAfter > 0 && len(f.calls) >= f.failAfter {
		return nil, fmt.Errorf("remote service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, f.dimensions)
		vec[0] = float32(len(t))
		out[i] = vec
	}
	return out, nil
}

func TestBatchEmbedder_SubBatching(t *testing.T) {
	fake := &fakeEmbeddings{dimensions: 4}
	embedder, err := NewBatchEmbedder(BatchEmbedderConfig{
		Client:     fake,
		Model:      "text-embedding-3-small",
		Dimensions: 4,
		BatchSize:  2,
	})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := embedder.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	// Three sequential sub-batches of at most 2.
	require.Len(t, fake.calls, 3)
	assert.Equal(t, []string{"a", "bb"}, fake.calls[0])
	assert.Equal(t, []string{"ccc", "dddd"}, fake.calls[1])
	assert.Equal(t, []string{"eeeee"}, fake.calls[2])

	// Order preserved across sub-batches.
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector %d out of order", i)
	}
}

func TestBatchEmbedder_SubBatchFailureFailsWholeBatch(t *testing.T) {
	fake := &fakeEmbeddings{dimensions: 4, failAfter: 2}
	embedder, err := NewBatchEmbedder(BatchEmbedderConfig{
		Client:     fake,
		Model:      "text-embedding-3-small",
		Dimensions: 4,
		BatchSize:  2,
	})
	require.NoError(t, err)

	_, err = embedder.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub-batch")
}

func TestBatchEmbedder_DimensionMismatch(t *testing.T) {
	fake := &fakeEmbeddings{dimensions: 3}
	embedder, err := NewBatchEmbedder(BatchEmbedderConfig{
		Client:     fake,
		Model:      "text-embedding-3-small",
		Dimensions: 4,
	})
	require.NoError(t, err)

	_, err = embedder.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestBatchEmbedder_CancellationBetweenSubBatches(t *testing.T) {
	fake := &fakeEmbeddings{dimensions: 2}
	embedder, err := NewBatchEmbedder(BatchEmbedderConfig{
		Client:     fake,
		Model:      "text-embedding-3-small",
		Dimensions: 2,
		BatchSize:  1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = embedder.EmbedBatch(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.calls)
}

func TestNewBatchEmbedder_Defaults(t *testing.T) {
	embedder, err := NewBatchEmbedder(BatchEmbedderConfig{
		Client: &fakeEmbeddings{dimensions: 1536},
		Model:  "text-embedding-3-small",
	})
	require.NoError(t, err)
	assert.Equal(t, 1536, embedder.Dimensions())
	assert.Equal(t, DefaultBatchSize, embedder.batchSize)

	_, err = NewBatchEmbedder(BatchEmbedderConfig{Model: "m"})
	require.Error(t, err)

	_, err = NewBatchEmbedder(BatchEmbedderConfig{Client: &fakeEmbeddings{}})
	require.Error(t, err)
}

package llm

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// DefaultBatchSize is the number of texts per remote embeddings call.
const DefaultBatchSize = 16

// EmbeddingsClient is the interface the batch embedder drives. Satisfied
// by *Client and by test doubles.
type EmbeddingsClient interface {
	GenerateEmbeddingsBatch(ctx context.Context, texts []string, model string, dimensions int) ([][]float32, error)
}

// BatchEmbedder maps texts to fixed-dimension vectors via a remote
// embedding model, grouping inputs into sub-batches that are issued
// sequentially. On failure of any sub-batch the whole call fails; the
// caller decides whether to retry the document.
type BatchEmbedder struct {
	client     EmbeddingsClient
	model      string
	dimensions int
	batchSize  int
	logger     hclog.Logger
}

// BatchEmbedderConfig holds configuration for the batch embedder.
type BatchEmbedderConfig struct {
	Client     EmbeddingsClient
	Model      string // e.g., "text-embedding-3-small"
	Dimensions int    // expected vector dimension (default: 1536)
	BatchSize  int    // texts per remote call (default: 16)
	Logger     hclog.Logger
}

// NewBatchEmbedder creates a batch embedder.
func NewBatchEmbedder(config BatchEmbedderConfig) (*BatchEmbedder, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("embeddings client is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if config.Dimensions == 0 {
		config.Dimensions = 1536
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &BatchEmbedder{
		client:     config.Client,
		model:      config.Model,
		dimensions: config.Dimensions,
		batchSize:  config.BatchSize,
		logger:     config.Logger.Named("embedder"),
	}, nil
}

// Dimensions returns the configured vector dimension.
func (e *BatchEmbedder) Dimensions() int {
	return e.dimensions
}

// Embed maps a single text to a vector.
func (e *BatchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch maps texts to vectors, one per input in input order.
// Sub-batches are issued sequentially; cancellation is checked between
// them.
func (e *BatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.client.GenerateEmbeddingsBatch(ctx, texts[start:end], e.model, e.dimensions)
		if err != nil {
			return nil, fmt.Errorf("embedding sub-batch [%d:%d] failed: %w", start, end, err)
		}

		for i, vec := range batch {
			if len(vec) != e.dimensions {
				return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", start+i, len(vec), e.dimensions)
			}
		}
		vectors = append(vectors, batch...)
	}

	e.logger.Debug("embedded batch",
		"texts", len(texts),
		"model", e.model,
		"batch_size", e.batchSize,
	)

	return vectors, nil
}

package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/docfoundry/docfoundry/pkg/chunkstore"
	"github.com/docfoundry/docfoundry/pkg/llm"
	"github.com/docfoundry/docfoundry/pkg/settings"
)

// NoResultsAnswer is returned when retrieval finds nothing; the
// completion model is not invoked.
const NoResultsAnswer = "I could not find anything relevant."

// QueryRequest is a single standalone question.
type QueryRequest struct {
	Question     string `json:"question"`
	TopK         int    `json:"top_k,omitempty"`
	ProviderType string `json:"provider_type,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// QueryResult is the answer plus its supporting sources.
type QueryResult struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	TokensUsed int      `json:"tokens_used"`
}

// QueryPipeline answers standalone questions. Construct one per request
// with the AI settings captured at request entry.
type QueryPipeline struct {
	embedder  Embedder
	searcher  Searcher
	completer Completer
	cfg       settings.AiConfig
	logger    hclog.Logger
}

// NewQueryPipeline creates a query pipeline.
func NewQueryPipeline(embedder Embedder, searcher Searcher, completer Completer, cfg settings.AiConfig, logger hclog.Logger) *QueryPipeline {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &QueryPipeline{
		embedder:  embedder,
		searcher:  searcher,
		completer: completer,
		cfg:       cfg,
		logger:    logger.Named("query"),
	}
}

// Query embeds the question, retrieves the nearest chunks, and asks the
// completion model to answer from them.
func (p *QueryPipeline) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return QueryResult{}, fmt.Errorf("question must not be empty")
	}

	results, err := p.retrieve(ctx, question, req)
	if err != nil {
		return QueryResult{}, err
	}
	if len(results) == 0 {
		p.logger.Debug("no chunks retrieved", "question", question)
		return QueryResult{Answer: NoResultsAnswer, Sources: []Source{}}, nil
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Chunk.Text
	}

	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock(texts), question)
	answer, tokens, err := p.completer.ChatCompletion(ctx, llm.CompletionRequest{
		Model: p.cfg.CompletionModel,
		Messages: []llm.Message{
			{Role: "system", Content: p.cfg.Prompts.QuerySystem},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return QueryResult{}, fmt.Errorf("completion failed: %w", err)
	}

	p.logger.Debug("query answered",
		"sources", len(results),
		"tokens_used", tokens,
	)
	return QueryResult{
		Answer:     answer,
		Sources:    sourcesFromResults(results),
		TokensUsed: tokens,
	}, nil
}

// DocSearch returns the document-level view of the nearest chunks.
func (p *QueryPipeline) DocSearch(ctx context.Context, req QueryRequest) ([]DocumentMatch, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	results, err := p.retrieve(ctx, question, req)
	if err != nil {
		return nil, err
	}
	return GroupByDocument(results, MaxDocumentMatches), nil
}

func (p *QueryPipeline) retrieve(ctx context.Context, question string, req QueryRequest) ([]chunkstore.SearchResult, error) {
	vector, err := p.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	results, err := p.searcher.Search(ctx, vector, clampTopK(req.TopK, p.cfg), chunkstore.SearchFilters{
		ProviderType: req.ProviderType,
		ProviderName: req.ProviderName,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return results, nil
}

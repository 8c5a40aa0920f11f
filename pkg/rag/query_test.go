package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfoundry/docfoundry/pkg/chunkstore"
	"github.com/docfoundry/docfoundry/pkg/llm"
	"github.com/docfoundry/docfoundry/pkg/models"
	"github.com/docfoundry/docfoundry/pkg/settings"
)

// fakeEmbed returns a fixed vector for any text.
type fakeEmbed struct {
	vector []float32
	calls  int
}

func (f *fakeEmbed) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vector, nil
}

// fakeSearch pops one canned result page per call and records the
// parameters it was called with.
type fakeSearch struct {
	pages   [][]chunkstore.SearchResult
	ks      []int
	filters []chunkstore.SearchFilters
}

func (f *fakeSearch) Search(ctx context.Context, v []float32, k int, filters chunkstore.SearchFilters) ([]chunkstore.SearchResult, error) {
	f.ks = append(f.ks, k)
	f.filters = append(f.filters, filters)
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

// scriptedCompleter pops canned completions in order and records the
// requests it served.
type scriptedCompleter struct {
	responses []scriptedResponse
	requests  []llm.CompletionRequest
}

type scriptedResponse struct {
	content string
	tokens  int
}

func (s *scriptedCompleter) ChatCompletion(ctx context.Context, req llm.CompletionRequest) (string, int, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return "", 0, fmt.Errorf("no scripted response left for request %d", len(s.requests))
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp.content, resp.tokens, nil
}

func hit(docID string, chunkNum int, text string, distance float64, providerType, providerName string) chunkstore.SearchResult {
	return chunkstore.SearchResult{
		Chunk: models.Chunk{
			DocumentID:   docID,
			Filename:     docID,
			ProviderType: providerType,
			ProviderName: providerName,
			ChunkNum:     chunkNum,
			Text:         text,
		},
		Distance: distance,
	}
}

func testAiConfig() settings.AiConfig {
	cfg := settings.AiConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestQueryPipeline_AnswersFromContext(t *testing.T) {
	searcher := &fakeSearch{pages: [][]chunkstore.SearchResult{{
		hit("deploy.md", 0, "use the deploy script", 0.1, "local", "docs"),
		hit("deploy.md", 3, "rollback with the previous tag", 0.2, "local", "docs"),
	}}}
	completer := &scriptedCompleter{responses: []scriptedResponse{
		{content: "Run the deploy script [1].", tokens: 37},
	}}

	p := NewQueryPipeline(&fakeEmbed{vector: []float32{1, 0}}, searcher, completer, testAiConfig(), nil)

	result, err := p.Query(context.Background(), QueryRequest{Question: "how do I deploy?"})
	require.NoError(t, err)

	assert.Equal(t, "Run the deploy script [1].", result.Answer)
	assert.Equal(t, 37, result.TokensUsed)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "[local/docs:deploy.md#chunk0]", result.Sources[0].Citation)
	assert.Equal(t, 0.1, result.Sources[0].Distance)

	// The completion saw numbered context and the question.
	require.Len(t, completer.requests, 1)
	req := completer.requests[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "[1] use the deploy script")
	assert.Contains(t, req.Messages[1].Content, "[2] rollback with the previous tag")
	assert.Contains(t, req.Messages[1].Content, "Question: how do I deploy?")
}

func TestQueryPipeline_NoResultsSkipsModel(t *testing.T) {
	completer := &scriptedCompleter{}
	p := NewQueryPipeline(&fakeEmbed{vector: []float32{1}}, &fakeSearch{}, completer, testAiConfig(), nil)

	result, err := p.Query(context.Background(), QueryRequest{Question: "anything?"})
	require.NoError(t, err)

	assert.Equal(t, NoResultsAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	assert.Zero(t, result.TokensUsed)
	assert.Empty(t, completer.requests, "no completion call on zero hits")
}

func TestQueryPipeline_TopKClamping(t *testing.T) {
	cfg := testAiConfig()

	for _, tc := range []struct {
		name      string
		requested int
		want      int
	}{
		{"zero uses default", 0, cfg.DefaultTopK},
		{"negative uses default", -3, cfg.DefaultTopK},
		{"within range passes through", 7, 7},
		{"above max clamps", 500, cfg.MaxTopK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			searcher := &fakeSearch{}
			p := NewQueryPipeline(&fakeEmbed{vector: []float32{1}}, searcher, &scriptedCompleter{}, cfg, nil)

			_, err := p.Query(context.Background(), QueryRequest{Question: "q", TopK: tc.requested})
			require.NoError(t, err)
			require.Len(t, searcher.ks, 1)
			assert.Equal(t, tc.want, searcher.ks[0])
		})
	}
}

func TestQueryPipeline_ProviderFiltersForwarded(t *testing.T) {
	searcher := &fakeSearch{}
	p := NewQueryPipeline(&fakeEmbed{vector: []float32{1}}, searcher, &scriptedCompleter{}, testAiConfig(), nil)

	_, err := p.Query(context.Background(), QueryRequest{
		Question:     "q",
		ProviderType: "local",
		ProviderName: "docs",
	})
	require.NoError(t, err)
	require.Len(t, searcher.filters, 1)
	assert.Equal(t, "local", searcher.filters[0].ProviderType)
	assert.Equal(t, "docs", searcher.filters[0].ProviderName)
}

func TestQueryPipeline_BlankQuestion(t *testing.T) {
	p := NewQueryPipeline(&fakeEmbed{}, &fakeSearch{}, &scriptedCompleter{}, testAiConfig(), nil)

	_, err := p.Query(context.Background(), QueryRequest{Question: "   "})
	require.Error(t, err)
}

func TestCitation(t *testing.T) {
	assert.Equal(t, "[s3/bucket-a:report.txt#chunk4]", Citation("s3", "bucket-a", "report.txt", 4))
	assert.Equal(t, "[report.txt#chunk4]", Citation("", "", "report.txt", 4))
	assert.Equal(t, "[report.txt#chunk0]", Citation("s3", "", "report.txt", 0), "both provider fields must be set")
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "local/docs:guide.md", Address("local", "docs", "guide.md"))
	assert.Equal(t, "guide.md", Address("", "", "guide.md"))
}

func TestGroupByDocument(t *testing.T) {
	results := []chunkstore.SearchResult{
		hit("a.md", 0, "a best", 0.10, "local", "docs"),
		hit("b.md", 1, "b best", 0.05, "local", "docs"),
		hit("a.md", 2, "a worse", 0.30, "local", "docs"),
		hit("c.md", 0, "c only", 0.20, "", ""),
	}

	matches := GroupByDocument(results, 5)
	require.Len(t, matches, 3)

	assert.Equal(t, "b.md", matches[0].DocumentID)
	assert.Equal(t, "a.md", matches[1].DocumentID)
	assert.Equal(t, "a best", matches[1].Text, "each document keeps its nearest chunk")
	assert.Equal(t, "c.md", matches[2].DocumentID)
	assert.Equal(t, "c.md", matches[2].Address, "bare filename address without provider fields")
	assert.Equal(t, "local/docs:a.md", matches[1].Address)
}

func TestGroupByDocument_Cap(t *testing.T) {
	var results []chunkstore.SearchResult
	for i := 0; i < 8; i++ {
		results = append(results, hit(fmt.Sprintf("doc-%d.md", i), 0, "text", float64(i)/10, "local", "docs"))
	}

	matches := GroupByDocument(results, MaxDocumentMatches)
	assert.Len(t, matches, MaxDocumentMatches)
	assert.Equal(t, "doc-0.md", matches[0].DocumentID)
}

func TestQueryPipeline_DocSearch(t *testing.T) {
	searcher := &fakeSearch{pages: [][]chunkstore.SearchResult{{
		hit("a.md", 0, "a", 0.1, "local", "docs"),
		hit("a.md", 1, "a2", 0.2, "local", "docs"),
		hit("b.md", 0, "b", 0.3, "local", "docs"),
	}}}
	p := NewQueryPipeline(&fakeEmbed{vector: []float32{1}}, searcher, &scriptedCompleter{}, testAiConfig(), nil)

	matches, err := p.DocSearch(context.Background(), QueryRequest{Question: "q"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a.md", matches[0].DocumentID)
}

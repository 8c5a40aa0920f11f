package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfoundry/docfoundry/pkg/chunkstore"
	"github.com/docfoundry/docfoundry/pkg/llm"
	"github.com/docfoundry/docfoundry/pkg/models"
	"github.com/docfoundry/docfoundry/pkg/rag"
	"github.com/docfoundry/docfoundry/pkg/settings"
)

// fakeStore serves canned search results and counts.
type fakeStore struct {
	pages [][]chunkstore.SearchResult
}

func (f *fakeStore) Search(ctx context.Context, v []float32, k int, filters chunkstore.SearchFilters) ([]chunkstore.SearchResult, error) {
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	if len(page) > k {
		page = page[:k]
	}
	var out []chunkstore.SearchResult
	for _, r := range page {
		if filters.ProviderType != "" && r.Chunk.ProviderType != filters.ProviderType {
			continue
		}
		if filters.ProviderName != "" && r.Chunk.ProviderName != filters.ProviderName {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) CountChunks(ctx context.Context) (int64, error)    { return 12, nil }
func (f *fakeStore) CountDocuments(ctx context.Context) (int64, error) { return 3, nil }

type fakeProviders struct{}

func (fakeProviders) ListEnabled(ctx context.Context) ([]models.Provider, error) {
	return []models.Provider{{
		ProviderType: "local",
		ProviderName: "docs",
		Enabled:      true,
		RegisteredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

// scriptedCompleter pops canned completions in order.
type scriptedCompleter struct {
	responses []string
}

func (s *scriptedCompleter) ChatCompletion(ctx context.Context, req llm.CompletionRequest) (string, int, error) {
	if len(s.responses) == 0 {
		return "", 0, fmt.Errorf("no scripted response left")
	}
	content := s.responses[0]
	s.responses = s.responses[1:]
	return content, 10, nil
}

func hit(docID string, chunkNum int, text string, distance float64) chunkstore.SearchResult {
	return chunkstore.SearchResult{
		Chunk: models.Chunk{
			DocumentID:   docID,
			Filename:     docID,
			ProviderType: "local",
			ProviderName: "docs",
			ChunkNum:     chunkNum,
			Text:         text,
		},
		Distance: distance,
	}
}

func newTestRouter(store *fakeStore, completer *scriptedCompleter) http.Handler {
	cfg := settings.AiConfig{}
	cfg.SetDefaults()
	return NewRouter(RouterConfig{
		Store:     store,
		Providers: fakeProviders{},
		Components: func() (rag.Embedder, rag.Completer, settings.AiConfig, error) {
			return fakeEmbedder{}, completer, cfg, nil
		},
		LoadedAt: func() time.Time { return time.Now().Add(-time.Minute) },
	})
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &scriptedCompleter{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.EqualValues(t, 12, resp["chunks"])
	assert.EqualValues(t, 3, resp["documents"])
	assert.NotEmpty(t, resp["settings_loaded_at"])
}

func TestListProviders(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &scriptedCompleter{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Providers []models.Provider `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "local", resp.Providers[0].ProviderType)
}

func TestQuery(t *testing.T) {
	store := &fakeStore{pages: [][]chunkstore.SearchResult{{
		hit("a.md", 0, "alpha passage", 0.1),
	}}}
	completer := &scriptedCompleter{responses: []string{"The answer [1]."}}
	router := newTestRouter(store, completer)

	rec := postJSON(t, router, "/query", map[string]any{"question": "what is alpha?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rag.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "The answer [1].", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "[local/docs:a.md#chunk0]", resp.Sources[0].Citation)
	assert.Equal(t, 10, resp.TokensUsed)
}

func TestQuery_BlankQuestion(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &scriptedCompleter{})

	rec := postJSON(t, router, "/query", map[string]any{"question": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["error"])
}

func TestQuery_NoResults(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &scriptedCompleter{})

	rec := postJSON(t, router, "/query", map[string]any{"question": "anything?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rag.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, rag.NoResultsAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
}

func TestChat_SingleBody(t *testing.T) {
	store := &fakeStore{pages: [][]chunkstore.SearchResult{{
		hit("a.md", 0, "alpha passage", 0.1),
	}}}
	completer := &scriptedCompleter{responses: []string{
		"alpha phrase",
		`{"answerable": true}`,
		"Chat answer.",
	}}
	router := newTestRouter(store, completer)

	rec := postJSON(t, router, "/chat", map[string]any{"message": "tell me about alpha"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rag.ChatResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Chat answer.", resp.Answer)
	assert.NotEmpty(t, resp.Steps)
	assert.NotEmpty(t, resp.Files)
	require.Len(t, resp.History, 2)
	assert.Equal(t, "Answer:\nChat answer.", resp.History[1].Content)
}

func TestChat_BlankMessage(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &scriptedCompleter{})
	rec := postJSON(t, router, "/chat", map[string]any{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_StreamSteps(t *testing.T) {
	store := &fakeStore{pages: [][]chunkstore.SearchResult{{
		hit("a.md", 0, "alpha passage", 0.1),
	}}}
	completer := &scriptedCompleter{responses: []string{
		"alpha phrase",
		`{"answerable": true}`,
		"Streamed answer.",
	}}
	router := newTestRouter(store, completer)

	rec := postJSON(t, router, "/chat", map[string]any{
		"message":      "tell me about alpha",
		"stream_steps": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var events []streamEvent
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		var ev streamEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.GreaterOrEqual(t, len(events), 2)

	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, "step", ev.Type)
		assert.NotEmpty(t, ev.Message)
		assert.Nil(t, ev.Final)
	}

	final := events[len(events)-1]
	assert.Equal(t, "final", final.Type)
	require.NotNil(t, final.Final)
	assert.Equal(t, "Streamed answer.", final.Final.Answer)
	assert.NotEmpty(t, final.Files)
}

func TestChat_StreamFailureStillTerminates(t *testing.T) {
	store := &fakeStore{pages: [][]chunkstore.SearchResult{{
		hit("a.md", 0, "alpha passage", 0.1),
	}}}
	// Refine succeeds, everything after runs out of script and fails.
	completer := &scriptedCompleter{responses: []string{"alpha phrase", `{"answerable": true}`}}
	router := newTestRouter(store, completer)

	rec := postJSON(t, router, "/chat", map[string]any{
		"message":      "tell me about alpha",
		"stream_steps": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	var final streamEvent
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &final))
	assert.Equal(t, "final", final.Type)
	require.NotNil(t, final.Final)
	assert.Equal(t, streamFailureAnswer, final.Final.Answer)
}

func TestDocSearch(t *testing.T) {
	store := &fakeStore{pages: [][]chunkstore.SearchResult{{
		hit("a.md", 0, "alpha", 0.1),
		hit("a.md", 2, "alpha 2", 0.3),
		hit("b.md", 0, "bravo", 0.2),
	}}}
	router := newTestRouter(store, &scriptedCompleter{})

	rec := postJSON(t, router, "/docsearch", map[string]any{"question": "alpha?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Documents []rag.DocumentMatch `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Documents, 2)
	assert.Equal(t, "a.md", resp.Documents[0].DocumentID)
	assert.Equal(t, "local/docs:a.md", resp.Documents[0].Address)
	assert.LessOrEqual(t, len(resp.Documents), rag.MaxDocumentMatches)
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &scriptedCompleter{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/query", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// Package rag implements retrieval-augmented answering over the chunk
// store: single-shot query, multi-turn chat with bounded retry, and the
// document-level search grouping.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docfoundry/docfoundry/pkg/chunkstore"
	"github.com/docfoundry/docfoundry/pkg/llm"
	"github.com/docfoundry/docfoundry/pkg/settings"
)

// Searcher is the chunk store surface the pipelines read from.
type Searcher interface {
	Search(ctx context.Context, queryVector []float32, k int, filters chunkstore.SearchFilters) ([]chunkstore.SearchResult, error)
}

// Embedder maps a question or search phrase to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer is the completion-model surface. Satisfied by *llm.Client.
type Completer interface {
	ChatCompletion(ctx context.Context, req llm.CompletionRequest) (string, int, error)
}

// Source is one retrieved chunk as presented to API clients.
type Source struct {
	DocumentID   string  `json:"document_id"`
	Filename     string  `json:"filename"`
	ChunkNum     int     `json:"chunk_num"`
	Text         string  `json:"text"`
	Distance     float64 `json:"distance"`
	Citation     string  `json:"citation"`
	ProviderType string  `json:"provider_type"`
	ProviderName string  `json:"provider_name"`
}

// DocumentMatch is the document-level view of search hits: one entry
// per distinct document carrying its best chunk.
type DocumentMatch struct {
	DocumentID   string  `json:"document_id"`
	Filename     string  `json:"filename"`
	Address      string  `json:"address"`
	Text         string  `json:"text"`
	Distance     float64 `json:"distance"`
	ProviderType string  `json:"provider_type"`
	ProviderName string  `json:"provider_name"`
}

// MaxDocumentMatches caps the document-level view.
const MaxDocumentMatches = 5

// Citation renders the inline citation label for a chunk.
func Citation(providerType, providerName, filename string, chunkNum int) string {
	if providerType != "" && providerName != "" {
		return fmt.Sprintf("[%s/%s:%s#chunk%d]", providerType, providerName, filename, chunkNum)
	}
	return fmt.Sprintf("[%s#chunk%d]", filename, chunkNum)
}

// Address renders the document address used by document-level search.
func Address(providerType, providerName, filename string) string {
	if providerType != "" && providerName != "" {
		return fmt.Sprintf("%s/%s:%s", providerType, providerName, filename)
	}
	return filename
}

// sourcesFromResults converts raw search hits.
func sourcesFromResults(results []chunkstore.SearchResult) []Source {
	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			DocumentID:   r.Chunk.DocumentID,
			Filename:     r.Chunk.Filename,
			ChunkNum:     r.Chunk.ChunkNum,
			Text:         r.Chunk.Text,
			Distance:     r.Distance,
			Citation:     Citation(r.Chunk.ProviderType, r.Chunk.ProviderName, r.Chunk.Filename, r.Chunk.ChunkNum),
			ProviderType: r.Chunk.ProviderType,
			ProviderName: r.Chunk.ProviderName,
		}
	}
	return sources
}

// GroupByDocument collapses search hits to distinct documents, each
// carrying its best (nearest) chunk as the snippet, ordered by that best
// distance and capped at limit.
func GroupByDocument(results []chunkstore.SearchResult, limit int) []DocumentMatch {
	if limit <= 0 {
		limit = MaxDocumentMatches
	}

	best := make(map[string]DocumentMatch)
	for _, r := range results {
		existing, seen := best[r.Chunk.DocumentID]
		if seen && existing.Distance <= r.Distance {
			continue
		}
		best[r.Chunk.DocumentID] = DocumentMatch{
			DocumentID:   r.Chunk.DocumentID,
			Filename:     r.Chunk.Filename,
			Address:      Address(r.Chunk.ProviderType, r.Chunk.ProviderName, r.Chunk.Filename),
			Text:         r.Chunk.Text,
			Distance:     r.Distance,
			ProviderType: r.Chunk.ProviderType,
			ProviderName: r.Chunk.ProviderName,
		}
	}

	matches := make([]DocumentMatch, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].DocumentID < matches[j].DocumentID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// clampTopK normalizes a requested top-k into [1, max] with the
// configured default for zero.
func clampTopK(requested int, cfg settings.AiConfig) int {
	k := requested
	if k <= 0 {
		k = cfg.DefaultTopK
	}
	if k > cfg.MaxTopK {
		k = cfg.MaxTopK
	}
	if k < 1 {
		k = 1
	}
	return k
}

// contextBlock renders chunk texts as numbered context passages.
func contextBlock(texts []string) string {
	var sb strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

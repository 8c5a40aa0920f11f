package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/docfoundry/docfoundry/pkg/chunkstore"
	"github.com/docfoundry/docfoundry/pkg/llm"
	"github.com/docfoundry/docfoundry/pkg/settings"
)

// NoContextAnswer is the fixed response when both retrieval attempts
// come back empty.
const NoContextAnswer = "I could not find anything related to your question in the indexed documents. Please try rephrasing it."

// maxRetrievalAttempts bounds the chat retry loop.
const maxRetrievalAttempts = 2

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a multi-turn chat message with optional history.
type ChatRequest struct {
	Message      string        `json:"message"`
	History      []ChatMessage `json:"history,omitempty"`
	TopK         int           `json:"top_k,omitempty"`
	ProviderType string        `json:"provider_type,omitempty"`
	ProviderName string        `json:"provider_name,omitempty"`
}

// ChatResult is the terminal chat event payload.
type ChatResult struct {
	Answer     string          `json:"answer"`
	Steps      []string        `json:"steps"`
	Files      []DocumentMatch `json:"files"`
	Sources    []Source        `json:"sources"`

	// TokensUsed counts the evaluator and answer calls only. Query
	// refinement runs on the small model before retrieval and is not
	// part of the reported usage.
	TokensUsed int           `json:"tokens_used"`
	History    []ChatMessage `json:"history"`
}

// StepFunc receives progress messages as the pipeline advances. Nil
// disables step delivery; steps are still recorded in the result.
type StepFunc func(message string)

// ChatPipeline is the multi-turn RAG state machine: refine, retrieve
// with at most two attempts, evaluate answerability, answer.
type ChatPipeline struct {
	embedder  Embedder
	searcher  Searcher
	completer Completer
	cfg       settings.AiConfig
	logger    hclog.Logger
}

// NewChatPipeline creates a chat pipeline.
func NewChatPipeline(embedder Embedder, searcher Searcher, completer Completer, cfg settings.AiConfig, logger hclog.Logger) *ChatPipeline {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ChatPipeline{
		embedder:  embedder,
		searcher:  searcher,
		completer: completer,
		cfg:       cfg,
		logger:    logger.Named("chat"),
	}
}

// answerability is the evaluator's verdict.
type answerability struct {
	Answerable     bool    `json:"answerable"`
	SuggestedQuery *string `json:"suggested_query"`
}

// Chat runs the bounded retrieval loop and produces the final answer.
func (p *ChatPipeline) Chat(ctx context.Context, req ChatRequest, onStep StepFunc) (ChatResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return ChatResult{}, fmt.Errorf("message must not be empty")
	}

	var steps []string
	emit := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		steps = append(steps, msg)
		if onStep != nil {
			onStep(msg)
		}
	}
	finish := func(answer string, results []chunkstore.SearchResult, tokens int) ChatResult {
		history := append(append([]ChatMessage{}, req.History...),
			ChatMessage{Role: "user", Content: req.Message},
			ChatMessage{Role: "assistant", Content: "Answer:\n" + answer},
		)
		return ChatResult{
			Answer:     answer,
			Steps:      steps,
			Files:      GroupByDocument(results, MaxDocumentMatches),
			Sources:    sourcesFromResults(results),
			TokensUsed: tokens,
			History:    history,
		}
	}

	tokens := 0

	phrase, _, err := p.refine(ctx, message)
	if err != nil {
		return ChatResult{}, fmt.Errorf("failed to refine message: %w", err)
	}
	emit("Refined question to: %q", phrase)

	topK := clampTopK(req.TopK, p.cfg)
	filters := chunkstore.SearchFilters{
		ProviderType: req.ProviderType,
		ProviderName: req.ProviderName,
	}

	for attempt := 1; attempt <= maxRetrievalAttempts; attempt++ {
		vector, err := p.embedder.Embed(ctx, phrase)
		if err != nil {
			return ChatResult{}, fmt.Errorf("failed to embed search phrase: %w", err)
		}
		results, err := p.searcher.Search(ctx, vector, topK, filters)
		if err != nil {
			return ChatResult{}, fmt.Errorf("search failed: %w", err)
		}
		emit("Attempt %d: found %d matching chunks", attempt, len(results))

		if len(results) == 0 {
			if attempt == maxRetrievalAttempts {
				emit("No relevant context found")
				return finish(NoContextAnswer, nil, tokens), nil
			}
			rephrased, _, err := p.rephrase(ctx, phrase, nil)
			if err != nil {
				return ChatResult{}, fmt.Errorf("failed to rephrase search phrase: %w", err)
			}
			phrase = rephrased
			emit("No results, retrying with: %q", phrase)
			continue
		}

		texts := make([]string, len(results))
		for i, r := range results {
			texts[i] = r.Chunk.Text
		}

		verdict, evalTokens := p.evaluateAnswerability(ctx, phrase, texts)
		tokens += evalTokens

		if !verdict.Answerable && attempt < maxRetrievalAttempts {
			if verdict.SuggestedQuery != nil && strings.TrimSpace(*verdict.SuggestedQuery) != "" {
				phrase = strings.TrimSpace(*verdict.SuggestedQuery)
			} else {
				rephrased, _, err := p.rephrase(ctx, phrase, texts)
				if err != nil {
					return ChatResult{}, fmt.Errorf("failed to rephrase search phrase: %w", err)
				}
				phrase = rephrased
			}
			emit("Context insufficient, retrying with: %q", phrase)
			continue
		}

		answer, answerTokens, err := p.generateAnswer(ctx, message, texts, req.History)
		if err != nil {
			return ChatResult{}, fmt.Errorf("failed to generate answer: %w", err)
		}
		tokens += answerTokens
		emit("Generated answer from %d chunks", len(results))
		return finish(answer, results, tokens), nil
	}

	// Unreachable: every attempt path above terminates or continues.
	return finish(NoContextAnswer, nil, tokens), nil
}

// refine rewrites the user message into a concise search phrase with
// the small model.
func (p *ChatPipeline) refine(ctx context.Context, message string) (string, int, error) {
	phrase, tokens, err := p.completer.ChatCompletion(ctx, llm.CompletionRequest{
		Model: p.cfg.SmallModel,
		Messages: []llm.Message{
			{Role: "system", Content: p.cfg.Prompts.Refine},
			{Role: "user", Content: message},
		},
	})
	if err != nil {
		return "", 0, err
	}
	phrase = strings.Trim(strings.TrimSpace(phrase), `"`)
	if phrase == "" {
		phrase = message
	}
	return phrase, tokens, nil
}

// rephrase asks the small model for an alternative search phrase after
// an unproductive attempt.
func (p *ChatPipeline) rephrase(ctx context.Context, phrase string, retrieved []string) (string, int, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The search phrase %q did not find useful passages.", phrase)
	if len(retrieved) > 0 {
		fmt.Fprintf(&sb, "\n\nThe passages found were:\n%s", contextBlock(retrieved))
	}
	sb.WriteString("\n\nSuggest one alternative search phrase. Reply with the phrase only.")

	rephrased, tokens, err := p.completer.ChatCompletion(ctx, llm.CompletionRequest{
		Model: p.cfg.SmallModel,
		Messages: []llm.Message{
			{Role: "system", Content: p.cfg.Prompts.Refine},
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		return "", 0, err
	}
	rephrased = strings.Trim(strings.TrimSpace(rephrased), `"`)
	if rephrased == "" {
		rephrased = phrase
	}
	return rephrased, tokens, nil
}

// evaluateAnswerability asks the small model whether the retrieved
// passages can answer the phrase. Parsing is lenient: anything that is
// not valid JSON defaults to not answerable.
func (p *ChatPipeline) evaluateAnswerability(ctx context.Context, phrase string, texts []string) (answerability, int) {
	prompt := fmt.Sprintf("Query: %s\n\nPassages:\n%s", phrase, contextBlock(texts))
	content, tokens, err := p.completer.ChatCompletion(ctx, llm.CompletionRequest{
		Model: p.cfg.SmallModel,
		Messages: []llm.Message{
			{Role: "system", Content: p.cfg.Prompts.Answerability},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		p.logger.Debug("answerability call failed, assuming not answerable", "error", err)
		return answerability{}, 0
	}

	verdict, ok := parseAnswerability(content)
	if !ok {
		p.logger.Debug("unparseable answerability response", "content", content)
	}
	return verdict, tokens
}

// parseAnswerability extracts the verdict JSON from model output,
// tolerating surrounding prose and code fences.
func parseAnswerability(content string) (answerability, bool) {
	var verdict answerability
	if err := json.Unmarshal([]byte(content), &verdict); err == nil {
		return verdict, true
	}

	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err == nil {
			return verdict, true
		}
	}
	return answerability{}, false
}

// generateAnswer asks the large model to answer from the retrieved
// context, carrying the conversation history.
func (p *ChatPipeline) generateAnswer(ctx context.Context, message string, texts []string, history []ChatMessage) (string, int, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: p.cfg.Prompts.ChatAnswer})
	for _, h := range history {
		messages = append(messages, llm.Message{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock(texts), message),
	})

	return p.completer.ChatCompletion(ctx, llm.CompletionRequest{
		Model:    p.cfg.CompletionModel,
		Messages: messages,
	})
}

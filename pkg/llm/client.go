// Package llm provides the OpenAI-compatible HTTP client used for both
// embedding and completion calls, plus the batching embedder the indexer
// runs chunk texts through.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Client talks to an OpenAI-compatible API (chat completions and
// embeddings endpoints).
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     hclog.Logger
}

// Config holds configuration for the client.
type Config struct {
	APIKey  string        // API key (optional for local servers)
	BaseURL string        // Base URL (default: https://api.openai.com/v1)
	Timeout time.Duration // HTTP timeout (default: 60s)
	Logger  hclog.Logger  // Logger (optional)
}

// NewClient creates a new OpenAI-compatible API client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger.Named("llm-client"),
	}
}

// Message is one turn of a chat completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one chat completion call.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// ChatCompletion calls the chat completions endpoint and returns the
// first choice's content and the total token count reported by the
// model.
func (c *Client) ChatCompletion(ctx context.Context, req CompletionRequest) (string, int, error) {
	body := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", body, &resp); err != nil {
		return "", 0, err
	}

	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("no choices in response")
	}

	c.logger.Debug("chat completion",
		"model", req.Model,
		"tokens_used", resp.Usage.TotalTokens,
	)

	return resp.Choices[0].Message.Content, resp.Usage.TotalTokens, nil
}

// GenerateEmbeddings generates an embedding vector for a single text.
func (c *Client) GenerateEmbeddings(ctx context.Context, text string, model string, dimensions int) ([]float32, error) {
	vectors, err := c.GenerateEmbeddingsBatch(ctx, []string{text}, model, dimensions)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddingsBatch generates embeddings for multiple texts in one
// API call, returning one vector per input in input order.
func (c *Client) GenerateEmbeddingsBatch(ctx context.Context, texts []string, model string, dimensions int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}

	body := embeddingsRequest{
		Model:      model,
		Input:      texts,
		Dimensions: dimensions,
	}

	var resp embeddingsResponse
	if err := c.post(ctx, "/embeddings", body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: requested %d, got %d", len(texts), len(resp.Data))
	}

	// The API does not guarantee response order; restore input order by
	// the index field.
	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("no embeddings in response for input %d", d.Index)
		}
		vectors[i] = d.Embedding
	}

	c.logger.Debug("generated embeddings",
		"model", model,
		"count", len(vectors),
		"dimensions", len(vectors[0]),
	)

	return vectors, nil
}

// post issues a JSON POST and decodes the response, surfacing API error
// bodies in the returned error.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return fmt.Errorf("model API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return fmt.Errorf("model API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// API wire types

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   usage        `json:"usage"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data  []embeddingData `json:"data"`
	Usage usage           `json:"usage"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

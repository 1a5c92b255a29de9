package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAIConfig configures the OpenAI-compatible collaborator client.
type OpenAIConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// OpenAIClient implements every collaborator contract over an
// OpenAI-compatible chat completions API.
type OpenAIClient struct {
	config OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIClient creates a collaborator client.
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAIClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// complete sends one chat completion round trip and returns the content.
func (c *OpenAIClient) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.config.Model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response from collaborator")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Generate implements Generator.
func (c *OpenAIClient) Generate(ctx context.Context, query, assembledContext string) (*Answer, error) {
	prompt := fmt.Sprintf("Answer the question using the context below.\n\nContext:\n%s\n\nQuestion: %s", assembledContext, query)
	content, err := c.complete(ctx, prompt, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &Answer{Response: content, Confidence: 0.8, Sources: map[string]bool{"generator": true}}, nil
}

// Synthesize implements Synthesizer.
func (c *OpenAIClient) Synthesize(ctx context.Context, originalQuery string, results []SubResult) (*Answer, error) {
	var parts []string
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("%d. [%s]\n%s", i+1, r.Query, r.Response))
	}
	prompt := fmt.Sprintf(
		"Merge the following sub-answers into one coherent response to the original question.\n\nOriginal question: %s\n\nSub-answers:\n%s",
		originalQuery, strings.Join(parts, "\n\n"))

	content, err := c.complete(ctx, prompt, 2048)
	if err != nil {
		return nil, fmt.Errorf("synthesize answer: %w", err)
	}

	sources := make(map[string]bool)
	for _, r := range results {
		for s := range r.Sources {
			sources[s] = true
		}
	}
	return &Answer{Response: content, Confidence: 0.8, Sources: sources}, nil
}

// Split implements QuerySplitter.
func (c *OpenAIClient) Split(ctx context.Context, query, context_ string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Break down this complex query into 3-5 specific sub-queries that can be answered independently.\nReturn a JSON array of strings only.\n\nQuery: %q\n\nSession context:\n%s",
		query, context_)

	content, err := c.complete(ctx, prompt, 1024)
	if err != nil {
		return nil, fmt.Errorf("split query: %w", err)
	}

	var subQueries []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &subQueries); err != nil {
		return nil, fmt.Errorf("parse sub-queries: %w", err)
	}
	return subQueries, nil
}

// ExtractFacts implements FactExtractor.
func (c *OpenAIClient) ExtractFacts(ctx context.Context, userMessage, assistantResponse string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Extract important facts worth remembering from this exchange: the user's interests, background and key information discussed.\nReturn a JSON array of short fact strings only.\n\nUser: %s\nAssistant: %s",
		userMessage, assistantResponse)

	content, err := c.complete(ctx, prompt, 1024)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	var facts []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &facts); err != nil {
		return nil, fmt.Errorf("parse facts: %w", err)
	}
	return facts, nil
}

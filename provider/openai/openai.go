package openai_provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mohammad-safakhou/newsrag/internal/errs"
)

// Options configures the OpenAI-compatible client.
type Options struct {
	APIKey          string
	BaseURL         string
	CompletionModel string
	EmbeddingModel  string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
}

// client implements chat completion and embeddings over the OpenAI API or
// any server speaking the same protocol.
type client struct {
	api             *openai.Client
	completionModel string
	embeddingName   string
	embeddingModel  openai.EmbeddingModel
	temperature     float32
	maxTokens       int
}

// ResolveEmbeddingModel maps a model name onto the embedding models the
// client library knows. Names it does not recognise are rejected because
// the request would go out with an empty model field.
func ResolveEmbeddingModel(name string) (openai.EmbeddingModel, error) {
	var m openai.EmbeddingModel
	_ = m.UnmarshalText([]byte(strings.TrimSpace(name)))
	if m == openai.Unknown {
		return openai.Unknown, fmt.Errorf("unsupported embedding model %q", name)
	}
	return m, nil
}

// NewOpenAIClient creates a new OpenAI client. An unsupported embedding
// model leaves completion usable; CreateEmbedding then fails.
func NewOpenAIClient(opts Options) *client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &client{
		api:             openai.NewClientWithConfig(cfg),
		completionModel: opts.CompletionModel,
		embeddingName:   opts.EmbeddingModel,
		embeddingModel:  embeddingModel(opts.EmbeddingModel),
		temperature:     float32(opts.Temperature),
		maxTokens:       opts.MaxTokens,
	}
}

func embeddingModel(name string) openai.EmbeddingModel {
	m, _ := ResolveEmbeddingModel(name)
	return m
}

func (c *client) Name() string { return "openai:" + c.embeddingName }

// Complete sends instructions as the system message and the assembled
// context as the user message.
func (c *client) Complete(ctx context.Context, prompt, instructions string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(instructions) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", classifyCompletion(err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.GenerationUnavailable("completion returned no choices", nil)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", errs.GenerationRejected("completion blocked by content filter", nil)
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", errs.GenerationUnavailable("completion returned empty content", nil)
	}
	return text, nil
}

// CreateEmbedding embeds texts in one request and returns vectors in input
// order.
func (c *client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.embeddingModel == openai.Unknown {
		return nil, errs.Validation("unsupported embedding model %q", c.embeddingName)
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, errs.RetrievalUnavailable("embedding request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errs.RetrievalUnavailable(fmt.Sprintf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts)), nil)
	}
	data := append([]openai.Embedding(nil), resp.Data...)
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(texts))
	for i, d := range data {
		if d.Index != i {
			return nil, errs.RetrievalUnavailable(fmt.Sprintf("embedding response missing index %d", i), nil)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// classifyCompletion maps transport and API failures onto the retry
// taxonomy: throttling, server faults and network trouble are transient,
// policy refusals and other client errors are not.
func classifyCompletion(err error) error {
	if errors.Is(err, context.Canceled) {
		return errs.GenerationUnavailable("completion cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.GenerationUnavailable("completion timed out", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isPolicyCode(apiErr.Code) {
			return errs.GenerationRejected("completion rejected by content policy", err)
		}
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.GenerationUnavailable("completion transport failure", err)
	}
	return errs.GenerationUnavailable("completion failed", err)
}

func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500, status == 0:
		return errs.GenerationUnavailable(fmt.Sprintf("completion unavailable (status %d)", status), err)
	default:
		return errs.GenerationRejected(fmt.Sprintf("completion rejected (status %d)", status), err)
	}
}

func isPolicyCode(code any) bool {
	s, ok := code.(string)
	if !ok {
		return false
	}
	switch s {
	case "content_policy_violation", "content_filter":
		return true
	}
	return false
}

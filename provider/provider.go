package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/newsrag/config"
	openai_provider "github.com/mohammad-safakhou/newsrag/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
)

// Completer is the completion gateway. Failures carry the errs taxonomy:
// GenerationUnavailable may be retried, GenerationRejected may not.
type Completer interface {
	Complete(ctx context.Context, prompt, instructions string) (string, error)
}

// Embedder turns a batch of texts into vectors, preserving order.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Completer
	Embedder
	Name() string
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("llm.api_key not set")
		}
		return openai_provider.NewOpenAIClient(openai_provider.Options{
			APIKey:          cfg.APIKey,
			BaseURL:         cfg.BaseURL,
			CompletionModel: cfg.CompletionModel,
			EmbeddingModel:  cfg.EmbeddingModel,
			Temperature:     cfg.Temperature,
			MaxTokens:       cfg.MaxTokens,
			Timeout:         cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}

// CheckEmbeddingModel reports whether the configured provider can embed
// with cfg.EmbeddingModel.
func CheckEmbeddingModel(cfg config.LLMConfig) error {
	switch Client(cfg.Provider) {
	case OpenAI:
		_, err := openai_provider.ResolveEmbeddingModel(cfg.EmbeddingModel)
		return err
	default:
		return fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}

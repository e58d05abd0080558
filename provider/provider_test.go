package provider

import (
	"testing"

	"github.com/mohammad-safakhou/newsrag/config"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.LLMConfig{Provider: "openai", APIKey: "k", EmbeddingModel: "text-embedding-ada-002"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Name() != "openai:text-embedding-ada-002" {
		t.Fatalf("unexpected name %q", p.Name())
	}
	if _, err := NewProvider(config.LLMConfig{Provider: "openai"}); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := NewProvider(config.LLMConfig{Provider: "gemini", APIKey: "k"}); err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
}

func TestCheckEmbeddingModel(t *testing.T) {
	if err := CheckEmbeddingModel(config.LLMConfig{Provider: "openai", EmbeddingModel: "text-embedding-ada-002"}); err != nil {
		t.Fatalf("CheckEmbeddingModel: %v", err)
	}
	if err := CheckEmbeddingModel(config.LLMConfig{Provider: "openai", EmbeddingModel: "text-embedding-3-small"}); err == nil {
		t.Fatalf("expected error for a model the client cannot send")
	}
	if err := CheckEmbeddingModel(config.LLMConfig{Provider: "gemini"}); err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
}

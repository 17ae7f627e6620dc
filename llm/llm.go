package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avidal-labs/docintel/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a chat conversation. Assistant messages may
// carry tool calls instead of (or alongside) content; tool messages
// answer a specific ToolCallID.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes an invocable capability offered to the model.
// Parameters is a JSON Schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Client is the chat-style language-model service. GenerateWithTools lets
// the model choose between answering and requesting a tool invocation;
// GenerateStructured constrains the reply to a JSON schema.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
	GenerateWithTools(ctx context.Context, messages []Message, tools []Tool) (Message, error)
	GenerateStructured(ctx context.Context, messages []Message, name string, schema json.RawMessage) (string, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ollamaClient struct {
	host   string
	model  string
	client *http.Client
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Tools    []ollamaTool        `json:"tools,omitempty"`
	Format   json.RawMessage     `json:"format,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaToolCallFunction `json:"function"`
}

type ollamaToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

func NewOllamaClient(opts Options) Client {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}

	return &ollamaClient{
		host:  host,
		model: opts.Model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *ollamaClient) Generate(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.chat(ctx, ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (c *ollamaClient) GenerateWithTools(ctx context.Context, messages []Message, tools []Tool) (Message, error) {
	req := ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	resp, err := c.chat(ctx, req)
	if err != nil {
		return Message{}, err
	}

	msg := Message{Role: RoleAssistant, Content: resp.Message.Content}
	for i, call := range resp.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      call.Function.Name,
			Arguments: string(call.Function.Arguments),
		})
	}
	return msg, nil
}

func (c *ollamaClient) GenerateStructured(ctx context.Context, messages []Message, _ string, schema json.RawMessage) (string, error) {
	resp, err := c.chat(ctx, ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Format:   schema,
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (c *ollamaClient) chat(ctx context.Context, payload ollamaChatRequest) (*ollamaChatResponse, error) {
	payload.Stream = false

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama chat API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("read ollama chat error body: %w", readErr)
		}
		if len(data) > 0 {
			return nil, fmt.Errorf("ollama chat API error: %s", strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("ollama chat API returned status %s", resp.Status)
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}

	if parsed.Error != "" {
		return nil, fmt.Errorf("ollama chat error: %s", parsed.Error)
	}

	return &parsed, nil
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	if len(messages) == 0 {
		return nil
	}
	converted := make([]ollamaChatMessage, len(messages))
	for i, msg := range messages {
		converted[i] = ollamaChatMessage{Role: msg.Role, Content: msg.Content}
		for _, call := range msg.ToolCalls {
			converted[i].ToolCalls = append(converted[i].ToolCalls, ollamaToolCall{
				Function: ollamaToolCallFunction{
					Name:      call.Name,
					Arguments: json.RawMessage(call.Arguments),
				},
			})
		}
	}
	return converted
}

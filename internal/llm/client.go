package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	envProvider = "LLM_PROVIDER" // "anthropic" or "openai"
)

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature float32
	MaxTokens   int
}

// Message is one turn of the decision history. Assistant turns may carry
// tool calls; tool turns carry the result of one call.
type Message struct {
	Role       string // user | assistant | tool
	Content    string
	ToolCalls  []ToolCall // assistant only
	ToolCallID string     // tool only
}

// ToolCall is one requested tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Response is a decision: free text, a list of tool invocations, or both.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Empty reports a decision with neither text nor tool calls.
func (r Response) Empty() bool {
	return strings.TrimSpace(r.Text) == "" && len(r.ToolCalls) == 0
}

// NewClientFromEnv creates a client based on LLM_PROVIDER.
// Defaults to Anthropic if not specified.
func NewClientFromEnv() (Client, error) {
	return NewClientWithLogger(zerolog.Nop())
}

// NewClientWithLogger creates a client with logger based on LLM_PROVIDER.
func NewClientWithLogger(logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic"
	}

	switch provider {
	case "openai":
		return NewOpenAIWithLogger(logger)
	case "anthropic":
		return NewAnthropicWithLogger(logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", provider)
	}
}

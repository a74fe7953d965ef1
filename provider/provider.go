package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Client identifies an LLM backend.
type Client string

const (
	OpenAI Client = "openai"
	Gemini Client = "gemini"
	Mock   Client = "mock"
)

// Schema is the JSON schema a structured response has to satisfy.
type Schema struct {
	Name string
	JSON json.RawMessage
}

// Request is a single structured generation call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Schema      *Schema
	Temperature float64
	MaxTokens   int
}

// Response carries the raw model output. Content is expected to be JSON when
// the request had a Schema; validation is the caller's job.
type Response struct {
	Content      []byte
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}

// ConfigurationError reports a provider that cannot be used as configured,
// such as a missing credential. It is fatal at startup and never retried.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider %s misconfigured: %s", e.Provider, e.Reason)
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ErrEmptyResponse is returned when a backend answers without content.
var ErrEmptyResponse = errors.New("empty model response")

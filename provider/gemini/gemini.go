package gemini_provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/mohammad-safakhou/qbank/provider"
)

// Options configures the Gemini client.
type Options struct {
	APIKey     string
	MaxRetries int
}

// client implements provider.Provider on the generative-ai-go SDK. Gemini's
// JSON mode does not take the schema directly, so it is appended to the system
// instruction and the caller validates the reply.
type client struct {
	cl         *genai.Client
	maxRetries int
}

// New dials the Gemini API. Close must be called to release the connection.
func New(ctx context.Context, opts Options) (*client, error) {
	if opts.APIKey == "" {
		return nil, &provider.ConfigurationError{Provider: string(provider.Gemini), Reason: "api_key not set"}
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	return &client{cl: cl, maxRetries: retries}, nil
}

func (c *client) Name() string { return string(provider.Gemini) }

func (c *client) Close() error { return c.cl.Close() }

func (c *client) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	m := c.cl.GenerativeModel(strings.TrimSpace(req.Model))
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		m.GenerationConfig.MaxOutputTokens = ptrInt32(int32(req.MaxTokens))
	}
	parts := []genai.Part{genai.Text(req.System)}
	if req.Schema != nil {
		m.GenerationConfig.ResponseMIMEType = "application/json"
		parts = append(parts, genai.Text("\nReturn only JSON matching this schema ("+req.Schema.Name+"):\n"+string(req.Schema.JSON)))
	}
	m.SystemInstruction = &genai.Content{Parts: parts}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			time.Sleep(time.Duration(attempt) * 300 * time.Millisecond)
			continue
		}
		txt := firstText(resp)
		if txt == "" {
			return provider.Response{}, provider.ErrEmptyResponse
		}
		out := provider.Response{Content: []byte(txt), Model: req.Model}
		if resp.UsageMetadata != nil {
			out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
			out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		}
		return out, nil
	}
	return provider.Response{}, fmt.Errorf("gemini generate: %w", lastErr)
}

func (c *client) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	em := c.cl.EmbeddingModel(model)
	batch := em.NewBatch()
	for _, text := range input {
		batch.AddContent(genai.Text(text))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if len(res.Embeddings) != len(input) {
		return nil, fmt.Errorf("gemini embeddings: expected %d vectors, got %d", len(input), len(res.Embeddings))
	}
	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }

func ptrInt32(v int32) *int32 { return &v }

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-reason/internal/reasoning"
	"go.uber.org/zap"
)

// Prompt is the caller-supplied wording of a generation request.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Generator turns prompts into structured reasoning outputs through a Router.
type Generator struct {
	router      *Router
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithModel sets the model requested from providers.
func WithModel(model string) GeneratorOption {
	return func(g *Generator) { g.model = model }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) GeneratorOption {
	return func(g *Generator) { g.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GeneratorOption {
	return func(g *Generator) { g.temperature = t }
}

// NewGenerator creates a Generator.
func NewGenerator(router *Router, logger *zap.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{router: router, maxTokens: 4096, logger: logger}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Invoke sends prompt, the expected output shape and the task input to the
// provider behind route and decodes the reply into a RawOutput.
func (g *Generator) Invoke(ctx context.Context, route string, prompt Prompt, shape map[string]any, input map[string]any) (reasoning.RawOutput, error) {
	msgs, err := buildMessages(prompt, shape, input)
	if err != nil {
		return nil, err
	}
	resp, err := g.router.Route(ctx, route, &ChatRequest{
		Model:       g.model,
		Messages:    msgs,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	out, err := DecodeOutput(resp.Content)
	if err != nil {
		g.logger.Warn("undecodable generation reply",
			zap.String("route", route),
			zap.String("model", resp.Model),
			zap.Int("length", len(resp.Content)),
			zap.Error(err))
		return nil, err
	}
	return out, nil
}

// Func binds a route, prompt and schema into a reasoning.GenerateFunc.
func (g *Generator) Func(route string, prompt Prompt, schema *reasoning.Schema) reasoning.GenerateFunc {
	shape := schema.Shape()
	return func(ctx context.Context, input map[string]any) (reasoning.RawOutput, error) {
		return g.Invoke(ctx, route, prompt, shape, input)
	}
}

func buildMessages(prompt Prompt, shape map[string]any, input map[string]any) ([]Message, error) {
	shapeJSON, err := json.MarshalIndent(shape, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal output shape: %w", err)
	}
	inputJSON, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal task input: %w", err)
	}

	var sys strings.Builder
	if prompt.System != "" {
		sys.WriteString(prompt.System)
		sys.WriteString("\n\n")
	}
	sys.WriteString("Work through these reasoning stages in order and record each one in reasoning_steps:\n")
	sys.WriteString(reasoning.Outline())
	sys.WriteString("\nRespond with a single JSON object matching this shape:\n")
	sys.Write(shapeJSON)

	var user strings.Builder
	user.WriteString(prompt.User)
	if len(input) > 0 {
		user.WriteString("\n\nContext:\n")
		user.Write(inputJSON)
	}

	return []Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}, nil
}

// DecodeOutput parses a model reply into a RawOutput. Markdown code fences
// and prose around the outermost JSON object are discarded.
func DecodeOutput(content string) (reasoning.RawOutput, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedOutput)
	}

	var out reasoning.RawOutput
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return out, nil
}

package rewrite

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

const (
	defaultTemperature = 0.2

	// maxGrowth rejects rewrites that balloon past the input. Spoken text
	// stays roughly the length of its source; a reply several times longer
	// means the model started explaining instead of rewriting.
	maxGrowth = 4
)

// systemPrompt keeps the model on a short leash: rewrite for the ear, change
// nothing else.
const systemPrompt = `You prepare text for a speech synthesizer.

Rewrite the user's text so it reads naturally when spoken aloud:
- Expand abbreviations, units and digits into words.
- Split constructions that are awkward to hear.
- Keep the meaning, language and tone. Never add or drop information.
- Keep placeholder expressions in {braces} exactly as written.

Respond with ONLY the rewritten text. No quotes, no markdown, no explanations.`

// LLMOption is a functional option for configuring an LLM rewriter.
type LLMOption func(*llmConfig)

type llmConfig struct {
	temperature float64
	backendOpts []anyllmlib.Option
}

// WithTemperature sets the sampling temperature. Lower values keep the
// rewrite closer to the input. Default: 0.2.
func WithTemperature(t float64) LLMOption {
	return func(c *llmConfig) {
		if t >= 0 {
			c.temperature = t
		}
	}
}

// WithAPIKey sets the backend API key. Without it the backend falls back to
// its usual environment variable (OPENAI_API_KEY and friends).
func WithAPIKey(key string) LLMOption {
	return func(c *llmConfig) {
		if key != "" {
			c.backendOpts = append(c.backendOpts, anyllmlib.WithAPIKey(key))
		}
	}
}

// WithBaseURL points the backend at a non-default API endpoint, e.g. a local
// Ollama or an OpenAI-compatible proxy.
func WithBaseURL(url string) LLMOption {
	return func(c *llmConfig) {
		if url != "" {
			c.backendOpts = append(c.backendOpts, anyllmlib.WithBaseURL(url))
		}
	}
}

// LLM is a Rewriter backed by a language model through any-llm-go.
type LLM struct {
	model       string
	temperature float64

	// complete performs one completion call and returns the text of the
	// first choice. Swapped out in tests.
	complete func(ctx context.Context, params anyllmlib.CompletionParams) (string, error)
}

// Compile-time interface assertion.
var _ Rewriter = (*LLM)(nil)

// NewLLM builds a rewriter on the named backend. backendName is one of
// "openai", "anthropic", "gemini", "ollama"; model is the model identifier
// the backend should run (e.g. "gpt-4o-mini").
func NewLLM(backendName, model string, opts ...LLMOption) (*LLM, error) {
	if model == "" {
		return nil, fmt.Errorf("rewrite: model must not be empty")
	}
	cfg := llmConfig{temperature: defaultTemperature}
	for _, o := range opts {
		o(&cfg)
	}

	backend, err := newBackend(backendName, cfg.backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("rewrite: create %q backend: %w", backendName, err)
	}

	return &LLM{
		model:       model,
		temperature: cfg.temperature,
		complete: func(ctx context.Context, params anyllmlib.CompletionParams) (string, error) {
			resp, err := backend.Completion(ctx, params)
			if err != nil {
				return "", err
			}
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("empty choices in response")
			}
			return resp.Choices[0].Message.ContentString(), nil
		},
	}, nil
}

// newBackend creates the underlying any-llm-go provider.
func newBackend(backendName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(backendName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama", backendName)
	}
}

// Rewrite sends text to the model and returns its rendition, guarded so a
// misbehaving model can degrade the utterance but never block it: output
// that is empty or implausibly long falls back to the input unchanged.
// Transport and model errors are returned as errors.
func (l *LLM) Rewrite(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	temp := l.temperature
	params := anyllmlib.CompletionParams{
		Model:       l.model,
		Temperature: &temp,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: "user", Content: text},
		},
	}

	out, err := l.complete(ctx, params)
	if err != nil {
		return "", fmt.Errorf("rewrite: complete: %w", err)
	}
	return withinGuardrails(text, out), nil
}

// withinGuardrails accepts the model output only when it looks like a spoken
// rendition of the input: non-empty after fence stripping and not wildly
// longer. Anything else falls back to the input.
func withinGuardrails(input, output string) string {
	out := stripFences(output)
	if out == "" {
		return input
	}
	if len(out) > maxGrowth*len(input)+64 {
		return input
	}
	return out
}

// stripFences removes markdown code fences some models wrap plain answers in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		// Drop an optional language tag on the fence line.
		if i := strings.IndexByte(after, '\n'); i >= 0 {
			s = after[i+1:]
		} else {
			s = after
		}
	}
	if before, ok := strings.CutSuffix(strings.TrimSpace(s), "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

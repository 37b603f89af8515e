package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Generator produces one completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, messages []Message, temperature float64) (string, error)
}

// Endpoint binds a router role to a model and a per-call deadline.
// The cognition layer holds two of them: a "main" one for planning and
// reaction, and a "fast" one for importance scoring and urgency checks.
type Endpoint struct {
	router    *Router
	role      string
	model     string
	timeout   time.Duration
	maxTokens int
	jsonMode  bool
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) EndpointOption {
	return func(e *Endpoint) { e.maxTokens = n }
}

// WithJSONMode requests JSON object output where the backend supports it.
func WithJSONMode() EndpointOption {
	return func(e *Endpoint) { e.jsonMode = true }
}

// NewEndpoint creates an Endpoint routed through r under role.
func NewEndpoint(r *Router, role, model string, timeout time.Duration, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{router: r, role: role, model: model, timeout: timeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the model name used for requests.
func (e *Endpoint) Model() string { return e.model }

// Generate sends the messages and returns the completion text.
func (e *Endpoint) Generate(ctx context.Context, messages []Message, temperature float64) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	clean := make([]Message, len(messages))
	for i, m := range messages {
		clean[i] = Message{Role: m.Role, Content: Sanitize(m.Content)}
	}

	resp, err := e.router.Route(ctx, e.role, &ChatRequest{
		Model:       e.model,
		Messages:    clean,
		Temperature: temperature,
		MaxTokens:   e.maxTokens,
		JSONMode:    e.jsonMode,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s after %s: %w", e.role, e.timeout, ErrTimeout)
		}
		return "", err
	}
	return resp.Content, nil
}

// Sanitize strips control characters and invalid UTF-8 from prompt text.
// Newlines and tabs are kept.
func Sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

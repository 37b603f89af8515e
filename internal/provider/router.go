package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// RoleStats counts model traffic for one role.
type RoleStats struct {
	Calls            int64 `json:"calls"`
	Failures         int64 `json:"failures"`
	Fallbacks        int64 `json:"fallbacks"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Router resolves a role ("main", "fast") to a provider chain: the bound
// provider, or the first registered one, followed by the role's fallbacks.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	bindings  map[string]string
	fallbacks map[string][]string

	statsMu sync.Mutex
	stats   map[string]*RoleStats

	logger *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		stats:     make(map[string]*RoleStats),
		logger:    logger,
	}
}

// Register adds a provider. The first one registered serves unbound roles.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// Bind routes role to a specific provider.
func (r *Router) Bind(role, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[role] = providerID
}

// SetFallbacks sets the providers tried, in order, after role's primary fails.
func (r *Router) SetFallbacks(role string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[role] = append([]string(nil), providerIDs...)
}

// Providers returns the registered providers in registration order.
func (r *Router) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// Route sends req down role's provider chain and returns the first success.
// A cancelled or expired context stops the chain.
func (r *Router) Route(ctx context.Context, role string, req *ChatRequest) (*ChatResponse, error) {
	chain := r.chain(role)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%s: %w", role, ErrNoProvider)
	}

	var lastErr error
	for i, p := range chain {
		if i > 0 {
			r.count(role, func(s *RoleStats) { s.Fallbacks++ })
			r.logger.Warn("falling back",
				zap.String("role", role),
				zap.String("provider", p.ID()),
				zap.Error(lastErr))
		}
		resp, err := p.Chat(ctx, req)
		if err == nil {
			r.count(role, func(s *RoleStats) {
				s.Calls++
				s.PromptTokens += int64(resp.Usage.PromptTokens)
				s.CompletionTokens += int64(resp.Usage.CompletionTokens)
			})
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	r.count(role, func(s *RoleStats) {
		s.Calls++
		s.Failures++
	})
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", role, ctx.Err())
	}
	return nil, fmt.Errorf("all providers failed for %s: %w", role, lastErr)
}

// Stats returns a copy of the per-role counters.
func (r *Router) Stats() map[string]RoleStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	out := make(map[string]RoleStats, len(r.stats))
	for role, s := range r.stats {
		out[role] = *s
	}
	return out
}

func (r *Router) chain(role string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary := r.bindings[role]
	if _, ok := r.providers[primary]; !ok {
		primary = ""
		if len(r.order) > 0 {
			primary = r.order[0]
		}
	}
	if primary == "" {
		return nil
	}

	seen := map[string]bool{primary: true}
	out := []Provider{r.providers[primary]}
	for _, id := range r.fallbacks[role] {
		p, ok := r.providers[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, p)
	}
	return out
}

func (r *Router) count(role string, f func(*RoleStats)) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	s, ok := r.stats[role]
	if !ok {
		s = &RoleStats{}
		r.stats[role] = s
	}
	f(s)
}

package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
)

// LocalProvider embeds through an Ollama server. It uses the batch /api/embed
// endpoint and drops to the per-text /api/embeddings endpoint on servers that
// predate it.
type LocalProvider struct {
	endpoint string
	model    string
	client   *http.Client
	dim      dimension
	legacy   atomic.Bool
}

// NewLocalProvider creates a LocalProvider from cfg.
func NewLocalProvider(cfg Config) *LocalProvider {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	return &LocalProvider{
		endpoint: endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: requestTimeout},
		dim:      dimension{configured: cfg.Dimension},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type legacyRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type legacyResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per text, in input order.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var (
		vecs [][]float32
		err  error
	)
	if !p.legacy.Load() {
		vecs, err = p.embedBatch(ctx, texts)
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			p.legacy.Store(true)
		}
	}
	if p.legacy.Load() {
		vecs, err = p.embedEach(ctx, texts)
	}
	if err != nil {
		return nil, err
	}
	p.dim.observe(vecs)
	return vecs, nil
}

func (p *LocalProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp embedResponse
	if err := postJSON(ctx, p.client, p.endpoint+"/api/embed", "", embedRequest{Model: p.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (p *LocalProvider) embedEach(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp legacyResponse
		if err := postJSON(ctx, p.client, p.endpoint+"/api/embeddings", "", legacyRequest{Model: p.model, Prompt: text}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("embedding: empty vector for model %s", p.model)
		}
		vecs = append(vecs, resp.Embedding)
	}
	return vecs, nil
}

// Dimension returns the vector size seen from the server, or the configured one.
func (p *LocalProvider) Dimension() int { return p.dim.get() }

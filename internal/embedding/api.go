package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const defaultBatchSize = 64

// APIProvider calls an OpenAI-compatible /embeddings endpoint, sending at
// most defaultBatchSize texts per request.
type APIProvider struct {
	url    string
	model  string
	apiKey string
	batch  int
	client *http.Client
	dim    dimension
}

// NewAPIProvider creates an APIProvider from cfg.
func NewAPIProvider(cfg Config) *APIProvider {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	return &APIProvider{
		url:    endpoint + "/embeddings",
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		batch:  defaultBatchSize,
		client: &http.Client{Timeout: requestTimeout},
		dim:    dimension{configured: cfg.Dimension},
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type apiResponse struct {
	Data []apiEmbeddingData `json:"data"`
}

// Embed returns one vector per text, in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batch {
		end := min(start+p.batch, len(texts))
		vecs, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	p.dim.observe(out)
	return out, nil
}

func (p *APIProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp apiResponse
	if err := postJSON(ctx, p.client, p.url, p.apiKey, apiRequest{Model: p.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		// Servers that omit the index return data in input order.
		if idx < 0 || idx >= len(vecs) || vecs[idx] != nil {
			idx = i
		}
		vecs[idx] = d.Embedding
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding: empty vector for input %d", i)
		}
	}
	return vecs, nil
}

// Dimension returns the vector size seen from the server, or the configured one.
func (p *APIProvider) Dimension() int { return p.dim.get() }

package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/config"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
)

type Param struct {
	Name     string
	Type     string
	Required bool
}

// Tool is one registered external capability. Its anchor embedding is
// computed once from the description at registration and scored against
// query embeddings to route free-text questions to it.
type Tool struct {
	Name        string
	Label       string
	Description string
	Transport   string
	Endpoint    string
	Timeout     time.Duration
	Params      []Param

	anchor []float32
}

func (t *Tool) RequiredParams() []Param {
	params := make([]Param, 0, len(t.Params))
	for _, p := range t.Params {
		if p.Required {
			params = append(params, p)
		}
	}
	return params
}

// LocalFunc runs a locally registered tool.
type LocalFunc func(ctx context.Context, args map[string]string) (string, error)

type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

// Registry holds the configured tools with their anchor embeddings and
// knows how to invoke them.
type Registry struct {
	tools  []*Tool
	locals map[string]LocalFunc
	client *http.Client
}

func NewRegistry(ctx context.Context, cfgs []config.ToolConfig, embedder Embedder) (*Registry, error) {
	reg := &Registry{
		locals: make(map[string]LocalFunc),
		client: &http.Client{},
	}
	for _, cfg := range cfgs {
		anchor, err := embedder.Embed(ctx, cfg.Description, ai.TaskTypeDocument)
		if err != nil {
			return nil, fmt.Errorf("embed anchor for tool %s: %w", cfg.Name, err)
		}
		tool := &Tool{
			Name:        cfg.Name,
			Label:       cfg.Label,
			Description: cfg.Description,
			Transport:   cfg.Transport,
			Endpoint:    cfg.Endpoint,
			Timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
			anchor:      anchor,
		}
		for _, p := range cfg.Params {
			tool.Params = append(tool.Params, Param{Name: p.Name, Type: p.Type, Required: p.Required})
		}
		reg.tools = append(reg.tools, tool)
	}
	return reg, nil
}

// RegisterLocal binds a handler to a tool configured with local transport.
func (r *Registry) RegisterLocal(name string, fn LocalFunc) {
	r.locals[name] = fn
}

func (r *Registry) Tools() []*Tool {
	return r.tools
}

// BestMatch scores the query embedding against every anchor and returns
// the closest tool with its clamped cosine similarity.
func (r *Registry) BestMatch(embedding []float32) (*Tool, float64) {
	var best *Tool
	bestScore := -1.0
	for _, tool := range r.tools {
		score := cosineSimilarity(embedding, tool.anchor)
		if score > bestScore {
			best = tool
			bestScore = score
		}
	}
	if best == nil {
		return nil, 0
	}
	if bestScore < 0 {
		bestScore = 0
	}
	return best, bestScore
}

// Invoke runs a tool under its timeout. The passed context still governs
// cancellation, so aborting the conversation turn aborts the call.
func (r *Registry) Invoke(ctx context.Context, tool *Tool, args map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, tool.Timeout)
	defer cancel()

	var result string
	var err error
	switch tool.Transport {
	case "http":
		result, err = r.invokeHTTP(ctx, tool, args)
	default:
		result, err = r.invokeLocal(ctx, tool, args)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: tool %s", appErr.ErrToolTimeout, tool.Name)
		}
		return "", fmt.Errorf("%w: tool %s: %v", appErr.ErrToolFailed, tool.Name, err)
	}
	return result, nil
}

func (r *Registry) invokeLocal(ctx context.Context, tool *Tool, args map[string]string) (string, error) {
	fn, ok := r.locals[tool.Name]
	if !ok {
		return "", fmt.Errorf("no local handler registered")
	}
	return fn(ctx, args)
}

func (r *Registry) invokeHTTP(ctx context.Context, tool *Tool, args map[string]string) (string, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return strings.TrimSpace(string(data)), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

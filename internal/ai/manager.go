package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type ManagerConfig struct {
	Model      string
	EmbedModel string
	EmbedDim   int
	Timeout    int
}

// Manager binds a provider to the configured generation and embedding
// models and memoizes embeddings. Query and tool-anchor texts repeat a lot,
// so the cache saves most embedding round trips.
type Manager struct {
	provider IProvider
	cfg      ManagerConfig
	cache    *expirable.LRU[string, []float32]
}

func NewManager(provider IProvider, cfg ManagerConfig) *Manager {
	cache := expirable.NewLRU[string, []float32](10000, nil, 2*time.Hour)
	return &Manager{provider: provider, cfg: cfg, cache: cache}
}

func (m *Manager) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	resp, err := m.provider.Generate(ctx, m.cfg.Model, prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

// GenerateStream forwards chunks to fn as they arrive. It does not apply
// the manager timeout: streamed turns are bounded by the caller's context,
// which the user can cancel mid-stream.
func (m *Manager) GenerateStream(ctx context.Context, prompt string, fn func(chunk string) error) error {
	return m.provider.GenerateStream(ctx, m.cfg.Model, prompt, fn)
}

func (m *Manager) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	key := m.embedCacheKey(text, taskType)
	if cached, ok := m.cache.Get(key); ok {
		return cached, nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	emb, err := m.provider.Embed(ctx, m.cfg.EmbedModel, text, taskType, m.cfg.EmbedDim)
	if err != nil {
		return nil, err
	}
	// the vector column is declared with this dimension, a mismatch would
	// fail every insert
	if m.cfg.EmbedDim > 0 && len(emb) != m.cfg.EmbedDim {
		return nil, fmt.Errorf("embed model %s returned %d dimensions, configured embed_dim is %d",
			m.cfg.EmbedModel, len(emb), m.cfg.EmbedDim)
	}
	m.cache.Add(key, emb)
	return emb, nil
}

func (m *Manager) EmbedModelName() string {
	return m.cfg.EmbedModel
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
	}
	return ctx, func() {}
}

func (m *Manager) embedCacheKey(text, taskType string) string {
	hash := sha256.Sum256([]byte(text))
	return m.cfg.EmbedModel + ":" + taskType + ":" + hex.EncodeToString(hash[:])
}

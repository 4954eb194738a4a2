package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port      int              `json:"port"`
	LogConfig logger.LogConfig `json:"log_config"`
	CORSHosts []string         `json:"cors_hosts"`
	Database  DatabaseConfig   `json:"database"`
	FileStore FileStoreConfig  `json:"file_store"`
	AI        AIConfig         `json:"ai"`
	Retrieval RetrievalConfig  `json:"retrieval"`
	Router    RouterConfig     `json:"router"`
	Ingest    IngestConfig     `json:"ingest"`
	Worker    WorkerConfig     `json:"worker"`
	Delete    DeleteConfig     `json:"delete"`
	Tools     []ToolConfig     `json:"tools"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type AIConfig struct {
	Provider   string      `json:"provider"`
	Data       interface{} `json:"data"`
	Model      string      `json:"model"`
	EmbedModel string      `json:"embed_model"`
	EmbedDim   int         `json:"embed_dim"`
	Timeout    int         `json:"timeout"`
}

// RetrievalConfig carries the empirically tuned retrieval constants. The
// defaults were calibrated against one embedding model and should be
// re-tuned when the model changes.
type RetrievalConfig struct {
	RelevanceThreshold float64 `json:"relevance_threshold"`
	TopK               int     `json:"top_k"`
	AmbiguityMargin    float64 `json:"ambiguity_margin"`
}

type RouterConfig struct {
	ToolThreshold     float64 `json:"tool_threshold"`
	PendingTTLMinutes int     `json:"pending_ttl_minutes"`
}

type IngestConfig struct {
	ChunkSize        int `json:"chunk_size"`
	ChunkOverlap     int `json:"chunk_overlap"`
	EmbedConcurrency int `json:"embed_concurrency"`
}

type WorkerConfig struct {
	PoolSize  int `json:"pool_size"`
	QueueSize int `json:"queue_size"`
}

type DeleteConfig struct {
	MaxAttempts  int `json:"max_attempts"`
	BackoffMS    int `json:"backoff_ms"`
	MaxBackoffMS int `json:"max_backoff_ms"`
}

type ToolConfig struct {
	Name        string            `json:"name"`
	Label       string            `json:"label"`
	Description string            `json:"description"`
	Transport   string            `json:"transport"`
	Endpoint    string            `json:"endpoint"`
	TimeoutSec  int               `json:"timeout_sec"`
	Params      []ToolParamConfig `json:"params"`
}

type ToolParamConfig struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.AI.Provider == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.Model == "" || cfg.AI.EmbedModel == "" {
		return nil, fmt.Errorf("ai.model and ai.embed_model are required")
	}
	if cfg.AI.EmbedDim == 0 {
		cfg.AI.EmbedDim = 512
	}
	if cfg.AI.EmbedDim < 0 {
		return nil, fmt.Errorf("ai.embed_dim must be positive")
	}
	if cfg.Retrieval.RelevanceThreshold == 0 {
		cfg.Retrieval.RelevanceThreshold = 0.5
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.AmbiguityMargin == 0 {
		cfg.Retrieval.AmbiguityMargin = 0.05
	}
	if cfg.Router.ToolThreshold == 0 {
		cfg.Router.ToolThreshold = 0.4
	}
	if cfg.Router.PendingTTLMinutes == 0 {
		cfg.Router.PendingTTLMinutes = 10
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 512
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 50
	}
	if cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return nil, fmt.Errorf("ingest.chunk_overlap must be smaller than ingest.chunk_size")
	}
	if cfg.Ingest.EmbedConcurrency == 0 {
		cfg.Ingest.EmbedConcurrency = 4
	}
	if cfg.Worker.PoolSize == 0 {
		cfg.Worker.PoolSize = 4
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 64
	}
	if cfg.Delete.MaxAttempts == 0 {
		cfg.Delete.MaxAttempts = 5
	}
	if cfg.Delete.BackoffMS == 0 {
		cfg.Delete.BackoffMS = 200
	}
	if cfg.Delete.MaxBackoffMS == 0 {
		cfg.Delete.MaxBackoffMS = 5000
	}
	for i := range cfg.Tools {
		tool := &cfg.Tools[i]
		if tool.Name == "" || tool.Description == "" {
			return nil, fmt.Errorf("tools[%d]: name and description are required", i)
		}
		switch tool.Transport {
		case "", "local":
			tool.Transport = "local"
		case "http":
			if tool.Endpoint == "" {
				return nil, fmt.Errorf("tools[%d]: endpoint is required for http transport", i)
			}
		default:
			return nil, fmt.Errorf("tools[%d]: transport must be local or http", i)
		}
		if tool.TimeoutSec == 0 {
			tool.TimeoutSec = 15
		}
	}
	return &cfg, nil
}

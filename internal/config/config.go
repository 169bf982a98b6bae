package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port        int              `json:"port"`
	CORSOrigins []string         `json:"cors_origins"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	FileStore   FileStoreConfig  `json:"file_store"`
	AI          AIConfig         `json:"ai"`
	Rerank      RerankConfig     `json:"rerank"`
	Ingest      IngestConfig     `json:"ingest"`
	Retrieval   RetrievalConfig  `json:"retrieval"`
	QueryLog    QueryLogConfig   `json:"query_log"`
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
	Provider     string      `json:"provider"`
	Data         interface{} `json:"data"`
	EmbedModel   string      `json:"embed_model"`
	GenModel     string      `json:"gen_model"`
	Timeout      int         `json:"timeout"`
	EmbedDelayMS int         `json:"embed_delay_ms"`
}

type RerankConfig struct {
	Provider string      `json:"provider"`
	Data     interface{} `json:"data"`
	Model    string      `json:"model"`
	TopK     int         `json:"top_k"`
	Timeout  int         `json:"timeout"`
}

type IngestConfig struct {
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	MinChunkSize int    `json:"min_chunk_size"`
	Contextual   bool   `json:"contextual"`
	SweepCron    string `json:"sweep_cron"`
}

type RetrievalConfig struct {
	TopK              int     `json:"top_k"`
	UseHybrid         *bool   `json:"use_hybrid"`
	RRFK              int     `json:"rrf_k"`
	SemanticThreshold float64 `json:"semantic_threshold"`
	CandidateLimit    int     `json:"candidate_limit"`
}

type QueryLogConfig struct {
	Enabled       bool   `json:"enabled"`
	RetentionDays int    `json:"retention_days"`
	CleanupCron   string `json:"cleanup_cron"`
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
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if c.AI.Provider == "" {
		return fmt.Errorf("ai.provider is required")
	}
	if c.AI.EmbedModel == "" {
		return fmt.Errorf("ai.embed_model is required")
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 60
	}
	if c.AI.EmbedDelayMS == 0 {
		c.AI.EmbedDelayMS = 200
	}
	if c.Rerank.TopK == 0 {
		c.Rerank.TopK = 5
	}
	if c.Rerank.Timeout == 0 {
		c.Rerank.Timeout = 15
	}
	if c.Ingest.ChunkSize == 0 {
		c.Ingest.ChunkSize = 800
	}
	if c.Ingest.ChunkOverlap == 0 {
		c.Ingest.ChunkOverlap = 400
	}
	if c.Ingest.MinChunkSize == 0 {
		c.Ingest.MinChunkSize = 100
	}
	if c.Ingest.SweepCron == "" {
		c.Ingest.SweepCron = "*/5 * * * *"
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.UseHybrid == nil {
		t := true
		c.Retrieval.UseHybrid = &t
	}
	if c.Retrieval.RRFK == 0 {
		c.Retrieval.RRFK = 60
	}
	if c.Retrieval.SemanticThreshold == 0 {
		c.Retrieval.SemanticThreshold = 0.5
	}
	if c.Retrieval.CandidateLimit == 0 {
		c.Retrieval.CandidateLimit = 50
	}
	if c.QueryLog.RetentionDays == 0 {
		c.QueryLog.RetentionDays = 30
	}
	if c.QueryLog.CleanupCron == "" {
		c.QueryLog.CleanupCron = "0 4 * * *"
	}
	return nil
}

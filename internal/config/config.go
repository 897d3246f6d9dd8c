package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"marketing-rag/internal/domain"
)

// ChunkerConfig sets the word budget and word-level overlap.
type ChunkerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// OpenAIEmbedderConfig configures the OpenAI/Ollama-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects the embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"` // tfidf | openai
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// QdrantConfig holds connection details for a Qdrant engine.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EngineConfig selects the similarity engine.
type EngineConfig struct {
	Type   string        `yaml:"type"` // memory | qdrant
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// GeneratorConfig configures the chat-completion generation client.
type GeneratorConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Model      string `yaml:"model"`
	MaxRetries int    `yaml:"max_retries"`
}

// SearchConfig sets how many chunks back answers and generated content.
type SearchConfig struct {
	AnswerResults  int `yaml:"answer_results"`
	ContentResults int `yaml:"content_results"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// Config is the explicit configuration struct handed to every constructor;
// there is no global configuration state.
type Config struct {
	KnowledgeDir string          `yaml:"knowledge_dir"`
	OutputsDir   string          `yaml:"outputs_dir"`
	BackupsDir   string          `yaml:"backups_dir"`
	SnapshotPath string          `yaml:"snapshot_path"`
	Collection   string          `yaml:"collection"`
	Chunker      ChunkerConfig   `yaml:"chunker"`
	Embedder     EmbedderConfig  `yaml:"embedder"`
	Engine       EngineConfig    `yaml:"engine"`
	Generator    GeneratorConfig `yaml:"generator"`
	Search       SearchConfig    `yaml:"search"`
	Logging      LoggingConfig   `yaml:"logging"`
}

// Load reads a config from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, domain.Errf(domain.KindConfig, "config.load", "read %s: %v", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.Errf(domain.KindConfig, "config.load", "parse %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.Errf(domain.KindConfig, "config.save", "create dir: %v", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return domain.Errf(domain.KindConfig, "config.save", "encode: %v", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the configuration used when no file exists: local
// directories, the TF-IDF embedder and the in-memory engine, so the system
// works offline out of the box.
func Default() *Config {
	return &Config{
		KnowledgeDir: "knowledge_base",
		OutputsDir:   "outputs",
		BackupsDir:   "backups",
		SnapshotPath: "index_snapshot.json",
		Collection:   "marketing_knowledge",
		Chunker:      ChunkerConfig{ChunkSize: 1000, Overlap: 100},
		Embedder:     EmbedderConfig{Type: "tfidf"},
		Engine:       EngineConfig{Type: "memory"},
		Generator:    GeneratorConfig{APIKeyEnv: "OPENAI_API_KEY", MaxRetries: 3},
		Search:       SearchConfig{AnswerResults: 5, ContentResults: 3},
		Logging:      LoggingConfig{Level: "info", Format: "console"},
	}
}

// Validate fails fast on configurations that cannot work.
func (c *Config) Validate() error {
	if c.KnowledgeDir == "" {
		return domain.Errf(domain.KindConfig, "config", "knowledge_dir must be set")
	}
	if c.Chunker.ChunkSize <= 0 {
		return domain.Errf(domain.KindConfig, "config", "chunker.chunk_size must be positive")
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return domain.Errf(domain.KindConfig, "config",
			"chunker.overlap %d must be in [0, chunk_size)", c.Chunker.Overlap)
	}
	switch c.Embedder.Type {
	case "tfidf", "openai", "":
	default:
		return domain.Errf(domain.KindConfig, "config", "unknown embedder type %q", c.Embedder.Type)
	}
	switch c.Engine.Type {
	case "memory", "":
	case "qdrant":
		if c.Engine.Qdrant == nil || c.Engine.Qdrant.URL == "" {
			return domain.Errf(domain.KindConfig, "config", "engine.qdrant.url must be set for the qdrant engine")
		}
	default:
		return domain.Errf(domain.KindConfig, "config", "unknown engine type %q", c.Engine.Type)
	}
	if c.Search.AnswerResults < 0 || c.Search.ContentResults < 0 {
		return domain.Errf(domain.KindConfig, "config", "search result counts must not be negative")
	}
	return nil
}

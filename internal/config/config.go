// Package config loads service configuration from defaults and SAGE_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Chunking  ChunkingConfig
	Embedding EmbeddingConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
	EvalModel  string
}

type StorageConfig struct {
	DataDir string
}

type ChunkingConfig struct {
	ChunkSize    int
	Overlap      int
	MinChunkSize int
}

type EmbeddingConfig struct {
	Dimension     int
	BatchSize     int
	MaxTokens     int
	CharsPerToken int
}

type RetrievalConfig struct {
	MaxResults    int
	MinSimilarity float64
	// Evaluate turns the answer-grading pass on.
	Evaluate bool
}

type IngestConfig struct {
	Workers int
}

type AuthConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
			EvalModel:  "phi3.5",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Chunking: ChunkingConfig{
			ChunkSize:    400,
			Overlap:      50,
			MinChunkSize: 50,
		},
		Embedding: EmbeddingConfig{
			Dimension:     768,
			BatchSize:     4,
			MaxTokens:     2048,
			CharsPerToken: 4,
		},
		Retrieval: RetrievalConfig{
			MaxResults:    5,
			MinSimilarity: 0.7,
			Evaluate:      true,
		},
		Ingest: IngestConfig{
			Workers: 2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sage"
	}
	return filepath.Join(home, ".sage")
}

// Load builds the configuration from defaults overridden by environment
// variables. It fails only when a variable is present but unparseable.
func Load() (Config, error) {
	cfg := defaults()

	var err error
	load := func(key string, apply func(string) error) {
		if err != nil {
			return
		}
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		if applyErr := apply(v); applyErr != nil {
			err = fmt.Errorf("parsing %s: %w", key, applyErr)
		}
	}

	load("SAGE_PORT", intVar(&cfg.Server.Port))
	load("SAGE_MCP_PORT", intVar(&cfg.Server.MCPPort))
	load("SAGE_OLLAMA_URL", stringVar(&cfg.Ollama.BaseURL))
	load("SAGE_CHAT_MODEL", stringVar(&cfg.Ollama.ChatModel))
	load("SAGE_EMBED_MODEL", stringVar(&cfg.Ollama.EmbedModel))
	load("SAGE_EVAL_MODEL", stringVar(&cfg.Ollama.EvalModel))
	load("SAGE_DATA_DIR", stringVar(&cfg.Storage.DataDir))
	load("SAGE_CHUNK_SIZE", intVar(&cfg.Chunking.ChunkSize))
	load("SAGE_CHUNK_OVERLAP", intVar(&cfg.Chunking.Overlap))
	load("SAGE_MIN_CHUNK_SIZE", intVar(&cfg.Chunking.MinChunkSize))
	load("SAGE_EMBED_DIMENSION", intVar(&cfg.Embedding.Dimension))
	load("SAGE_EMBED_BATCH_SIZE", intVar(&cfg.Embedding.BatchSize))
	load("SAGE_EMBED_MAX_TOKENS", intVar(&cfg.Embedding.MaxTokens))
	load("SAGE_MAX_RESULTS", intVar(&cfg.Retrieval.MaxResults))
	load("SAGE_MIN_SIMILARITY", floatVar(&cfg.Retrieval.MinSimilarity))
	load("SAGE_EVALUATE", boolVar(&cfg.Retrieval.Evaluate))
	load("SAGE_INGEST_WORKERS", intVar(&cfg.Ingest.Workers))
	load("SAGE_API_TOKEN", stringVar(&cfg.Auth.Token))
	load("SAGE_LOG_LEVEL", stringVar(&cfg.Log.Level))

	return cfg, err
}

func stringVar(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func intVar(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func floatVar(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func boolVar(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

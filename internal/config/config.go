// Package config loads repoask configuration from a YAML file, a .env file
// and environment overrides. Configuration is passed explicitly into
// constructors; nothing reads it from globals.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/repoask/internal/answer"
	"github.com/dshills/repoask/internal/chunker"
	"github.com/dshills/repoask/internal/embedder"
	"github.com/dshills/repoask/internal/generator"
	"github.com/dshills/repoask/internal/logging"
)

// DefaultPath is read when no --config flag is given. It is optional.
const DefaultPath = "repoask.yaml"

const (
	SourceGitHub = "github"
	SourceDir    = "dir"

	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Environment variables that override file settings
const (
	EnvGitHubToken = "GITHUB_TOKEN"
	EnvGeminiKey   = "GEMINI_API_KEY"
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvDataDir     = "REPOASK_DATA_DIR"
	EnvLogLevel    = "REPOASK_LOG_LEVEL"
	EnvHTTPAddr    = "REPOASK_HTTP_ADDR"
)

var ErrInvalid = errors.New("invalid configuration")

// ServerConfig configures the HTTP interface
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	CORSOrigin        string        `yaml:"cors_origin"`
}

// SourceConfig selects where repository files come from
type SourceConfig struct {
	Type         string        `yaml:"type"` // github or dir
	APIURL       string        `yaml:"api_url"`
	RawURL       string        `yaml:"raw_url"`
	Token        string        `yaml:"token"`
	Root         string        `yaml:"root"` // dir source: <root>/<owner>/<name>
	Extensions   []string      `yaml:"extensions"`
	MaxFileBytes int64         `yaml:"max_file_bytes"`
	Concurrency  int           `yaml:"concurrency"`
	CacheSize    int           `yaml:"cache_size"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ChunkerConfig sets the line window
type ChunkerConfig struct {
	Window  int `yaml:"window"`
	Overlap int `yaml:"overlap"`
}

// EmbedderConfig selects the embedding provider and batching
type EmbedderConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Dimension         int           `yaml:"dimension"`
	BatchSize         int           `yaml:"batch_size"`
	Parallelism       int           `yaml:"parallelism"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	CacheSize         int           `yaml:"cache_size"`
	Timeout           time.Duration `yaml:"timeout"`
}

// GeneratorConfig selects the answer generation provider
type GeneratorConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RetryConfig is the bounded retry policy for model calls
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// IndexConfig tunes index runs
type IndexConfig struct {
	RunAttempts int    `yaml:"run_attempts"`
	LockDir     string `yaml:"lock_dir"`
}

// SearchConfig tunes retrieval
type SearchConfig struct {
	TopK           int `yaml:"top_k"`
	MaxTopK        int `yaml:"max_top_k"`
	ProximityLines int `yaml:"proximity_lines"`
	CacheSize      int `yaml:"cache_size"`
}

// AnswerConfig tunes the grounding context
type AnswerConfig struct {
	Budget  int    `yaml:"budget"`
	Counter string `yaml:"counter"` // tokens or chars
}

// HNSWConfig tunes the in-memory vector store
type HNSWConfig struct {
	M          int `yaml:"m"`
	EfSearch   int `yaml:"ef_search"`
	ExactBelow int `yaml:"exact_below"`
}

// StoreConfig selects the fingerprint and vector store
type StoreConfig struct {
	Type string     `yaml:"type"` // sqlite or memory
	Path string     `yaml:"path"`
	HNSW HNSWConfig `yaml:"hnsw"`
}

// Config is the root configuration
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Server    ServerConfig    `yaml:"server"`
	Source    SourceConfig    `yaml:"source"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Retry     RetryConfig     `yaml:"retry"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Answer    AnswerConfig    `yaml:"answer"`
	Store     StoreConfig     `yaml:"store"`
	Log       logging.Config  `yaml:"log"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8000",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			CORSOrigin:        "*",
		},
		Source: SourceConfig{
			Type:        SourceGitHub,
			Concurrency: 8,
			CacheSize:   4096,
			Timeout:     30 * time.Second,
		},
		Chunker: ChunkerConfig{Window: chunker.DefaultWindow, Overlap: chunker.DefaultOverlap},
		Embedder: EmbedderConfig{
			BatchSize:   embedder.DefaultBatchSize,
			Parallelism: embedder.DefaultParallelism,
			CacheSize:   1000,
			Timeout:     embedder.DefaultTimeout,
		},
		Generator: GeneratorConfig{
			Temperature: 0.2,
			Timeout:     generator.DefaultTimeout,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BaseDelay:      500 * time.Millisecond,
			MaxDelay:       8 * time.Second,
			AttemptTimeout: 2 * time.Minute,
		},
		Index:  IndexConfig{RunAttempts: 2},
		Search: SearchConfig{TopK: 5, MaxTopK: 50, CacheSize: 1000},
		Answer: AnswerConfig{Budget: answer.DefaultBudget, Counter: answer.CounterTokens},
		Store:  StoreConfig{Type: StoreSQLite},
		Log:    logging.DefaultConfig(),
	}
}

// Load reads .env files, the YAML file at path and environment overrides,
// then fills derived defaults. An empty path reads DefaultPath if present.
func Load(path string) (*Config, error) {
	// .env is optional; variables already set in the environment win
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv overlays environment variables on top of file settings
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvHTTPAddr); v != "" {
		c.Server.Addr = v
	}
	if v := getenv(EnvGitHubToken); v != "" && c.Source.Token == "" {
		c.Source.Token = v
	}

	gemini, openai := getenv(EnvGeminiKey), getenv(EnvOpenAIKey)
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = embedder.DetectProvider(gemini, openai)
	}
	if c.Generator.Provider == "" {
		// the local embedder pairs with the extractive generator
		c.Generator.Provider = embedder.DetectProvider(gemini, openai)
	}
	c.Embedder.APIKey = keyFor(c.Embedder.Provider, c.Embedder.APIKey, gemini, openai)
	c.Generator.APIKey = keyFor(c.Generator.Provider, c.Generator.APIKey, gemini, openai)
}

func keyFor(provider, current, gemini, openai string) string {
	if current != "" {
		return current
	}
	switch strings.ToLower(provider) {
	case embedder.ProviderGemini:
		return gemini
	case embedder.ProviderOpenAI:
		return openai
	}
	return ""
}

// applyDefaults derives paths from the data directory
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "repoask.db")
	}
	if c.Index.LockDir == "" {
		c.Index.LockDir = filepath.Join(c.DataDir, "locks")
	}
	if c.Source.Type == SourceDir && c.Source.Root == "" {
		c.Source.Root = filepath.Join(c.DataDir, "mirrors")
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".repoask"
	}
	return filepath.Join(home, ".repoask")
}

// Validate rejects configurations the components cannot run with
func (c *Config) Validate() error {
	var errs []error

	if err := (chunker.Config{Window: c.Chunker.Window, Overlap: c.Chunker.Overlap}).Validate(); err != nil {
		errs = append(errs, err)
	}
	if !embedder.IsKnownProvider(c.Embedder.Provider) {
		errs = append(errs, fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider))
	}
	if !generator.IsKnownProvider(c.Generator.Provider) {
		errs = append(errs, fmt.Errorf("unknown generator provider %q", c.Generator.Provider))
	}
	switch c.Source.Type {
	case SourceGitHub, SourceDir:
	default:
		errs = append(errs, fmt.Errorf("unknown source type %q", c.Source.Type))
	}
	switch c.Store.Type {
	case StoreSQLite, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store type %q", c.Store.Type))
	}
	switch c.Answer.Counter {
	case answer.CounterTokens, answer.CounterChars:
	default:
		errs = append(errs, fmt.Errorf("unknown answer counter %q", c.Answer.Counter))
	}
	if c.Answer.Budget < answer.MinBudget {
		errs = append(errs, fmt.Errorf("answer budget must be at least %d, got %d", answer.MinBudget, c.Answer.Budget))
	}
	if c.Search.TopK <= 0 || c.Search.MaxTopK <= 0 || c.Search.TopK > c.Search.MaxTopK {
		errs = append(errs, fmt.Errorf("search top_k must be in [1, max_top_k], got %d (max %d)", c.Search.TopK, c.Search.MaxTopK))
	}
	if c.Search.ProximityLines < 0 {
		errs = append(errs, fmt.Errorf("search proximity_lines must not be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry max_attempts must be at least 1"))
	}
	if c.Embedder.BatchSize > embedder.MaxBatchSize {
		errs = append(errs, fmt.Errorf("embedder batch_size must be at most %d", embedder.MaxBatchSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

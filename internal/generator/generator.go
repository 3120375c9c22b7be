package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOllamaBaseURL = "http://localhost:11434"

	DefaultGeminiModel = "gemini-1.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultOllamaModel = "llama3.1"
	DefaultLocalModel  = "local-extractive-v1"

	// DefaultTimeout bounds a single generation request
	DefaultTimeout = 120 * time.Second
)

var (
	ErrNoProviderEnabled = errors.New("no generation provider configured")
	ErrUnknownProvider   = errors.New("unknown generation provider")
	ErrEmptyResponse     = errors.New("provider returned no text")
)

// Prompt is one grounded generation request
type Prompt struct {
	System   string // instructions
	Question string
	Context  string // rendered passages
}

// UserMessage renders the question and context as a single user turn
func (p Prompt) UserMessage() string {
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(p.Context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(p.Question)
	b.WriteString("\n\nProvide a clear, concise answer with citations (file paths and lines).")
	return b.String()
}

// Text renders the whole prompt for providers without a system role
func (p Prompt) Text() string {
	if p.System == "" {
		return p.UserMessage()
	}
	return p.System + "\n\n" + p.UserMessage()
}

// Generator turns a grounded prompt into an answer
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the generator
	Close() error
}

// Config holds generator configuration. Credentials are supplied by the
// caller.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
}

// New creates a generator with explicit configuration
func New(cfg Config) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini:
		return NewGemini(cfg)
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderOllama:
		return NewOllama(cfg), nil
	case ProviderLocal, "":
		return NewLocal(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// IsKnownProvider reports whether name selects a provider New can build
func IsKnownProvider(name string) bool {
	switch strings.ToLower(name) {
	case ProviderGemini, ProviderOpenAI, ProviderOllama, ProviderLocal:
		return true
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

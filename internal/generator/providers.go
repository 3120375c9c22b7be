package generator

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dshills/repoask/internal/httpjson"
	"github.com/dshills/repoask/internal/retry"
)

// Gemini generates answers with the generateContent API
type Gemini struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewGemini creates a Gemini generator
func NewGemini(cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not set", ErrNoProviderEnabled)
	}
	return &Gemini{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(orDefault(cfg.BaseURL, DefaultGeminiBaseURL), "/"),
		model:       strings.TrimPrefix(orDefault(cfg.Model, DefaultGeminiModel), "models/"),
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func (g *Gemini) Generate(ctx context.Context, prompt Prompt) (string, error) {
	var req geminiGenerateRequest
	req.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt.Text()}}}}
	req.GenerationConfig.Temperature = g.temperature

	var resp geminiGenerateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	headers := map[string]string{"x-goog-api-key": g.apiKey}
	if err := httpjson.Post(ctx, g.httpClient, url, headers, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", retry.Permanent(ErrEmptyResponse)
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", retry.Permanent(fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, resp.Candidates[0].FinishReason))
	}
	return b.String(), nil
}

func (g *Gemini) Provider() string { return ProviderGemini }
func (g *Gemini) Model() string    { return g.model }

func (g *Gemini) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

// chatMessage is shared by the OpenAI and Ollama chat APIs
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func chatMessages(prompt Prompt) []chatMessage {
	var msgs []chatMessage
	if prompt.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: prompt.System})
	}
	return append(msgs, chatMessage{Role: "user", Content: prompt.UserMessage()})
}

// OpenAI generates answers with any OpenAI-compatible chat completions API
type OpenAI struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewOpenAI creates an OpenAI-compatible generator
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key not set", ErrNoProviderEnabled)
	}
	return &OpenAI{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(orDefault(cfg.BaseURL, DefaultOpenAIBaseURL), "/"),
		model:       orDefault(cfg.Model, DefaultOpenAIModel),
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}, nil
}

func (o *OpenAI) Generate(ctx context.Context, prompt Prompt) (string, error) {
	reqBody := struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
	}{Model: o.model, Messages: chatMessages(prompt), Temperature: o.temperature}

	var resp struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := httpjson.Post(ctx, o.httpClient, o.baseURL+"/chat/completions", headers, reqBody, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", retry.Permanent(ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Provider() string { return ProviderOpenAI }
func (o *OpenAI) Model() string    { return o.model }

func (o *OpenAI) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// Ollama generates answers with the Ollama /api/chat endpoint
type Ollama struct {
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewOllama creates a generator targeting an Ollama instance
func NewOllama(cfg Config) *Ollama {
	return &Ollama{
		baseURL:     strings.TrimRight(orDefault(cfg.BaseURL, DefaultOllamaBaseURL), "/"),
		model:       orDefault(cfg.Model, DefaultOllamaModel),
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}
}

func (o *Ollama) Generate(ctx context.Context, prompt Prompt) (string, error) {
	reqBody := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
		Stream   bool          `json:"stream"`
		Options  struct {
			Temperature float64 `json:"temperature"`
		} `json:"options"`
	}{Model: o.model, Messages: chatMessages(prompt)}
	reqBody.Options.Temperature = o.temperature

	var resp struct {
		Message chatMessage `json:"message"`
	}
	if err := httpjson.Post(ctx, o.httpClient, o.baseURL+"/api/chat", nil, reqBody, &resp); err != nil {
		return "", err
	}

	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", retry.Permanent(ErrEmptyResponse)
	}
	return resp.Message.Content, nil
}

func (o *Ollama) Provider() string { return ProviderOllama }
func (o *Ollama) Model() string    { return o.model }

func (o *Ollama) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

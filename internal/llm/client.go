package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/excelgpt/backend/internal/metrics"
	"github.com/excelgpt/backend/pkg/circuitbreaker"
	"github.com/excelgpt/backend/pkg/config"
	"github.com/excelgpt/backend/pkg/logger"
	"github.com/excelgpt/backend/pkg/retry"
)

// Client wraps the configured LLM provider behind one completion interface.
// Calls go through a circuit breaker and a retry loop; the rest of the
// service never talks to a provider SDK directly.
type Client struct {
	provider string
	model    string
	timeout  time.Duration

	temperature float32
	maxTokens   int

	gemini *genai.Client
	openai *openai.Client

	breaker  *circuitbreaker.CircuitBreaker
	retryCfg retry.Config
	logger   *zap.Logger
}

// CompletionRequest is a single prompt exchange. System sets behavior,
// Prompt carries the user-facing content.
type CompletionRequest struct {
	System string
	Prompt string
}

// CompletionResponse carries the model text plus token accounting.
type CompletionResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

func NewClient(ctx context.Context, cfg config.LLMConfig) (*Client, error) {
	c := &Client{
		provider:    strings.ToLower(cfg.Provider),
		model:       cfg.Model,
		timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		logger:      logger.GetLogger(),
	}

	if c.timeout <= 0 {
		c.timeout = 60 * time.Second
	}

	switch c.provider {
	case ProviderGemini:
		gc, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		c.gemini = gc
	case ProviderOpenAI:
		c.openai = openai.NewClient(cfg.OpenAIAPIKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	c.breaker = circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      3,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           c.logger,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.RecordBreakerState(name, to.String())
		},
	})

	c.retryCfg = retry.DefaultConfig()
	c.retryCfg.Logger = c.logger

	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends one prompt and returns the model's text. Transport errors
// are retried with backoff; sustained failure trips the breaker.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := retry.DoWithResult(ctx, c.retryCfg, func() (*CompletionResponse, error) {
		var result *CompletionResponse
		breakerErr := c.breaker.Execute(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			var err error
			result, err = c.complete(callCtx, req)
			return err
		})
		if breakerErr != nil {
			if errors.Is(breakerErr, circuitbreaker.ErrCircuitOpen) ||
				errors.Is(breakerErr, circuitbreaker.ErrTooManyRequests) {
				return nil, retry.Permanent(breakerErr)
			}
			return nil, breakerErr
		}
		return result, nil
	})
	if err != nil {
		metrics.RecordLLMRequest(c.provider, c.model, "error", time.Since(start))
		return nil, err
	}

	metrics.RecordLLMRequest(c.provider, c.model, "success", time.Since(start))
	metrics.RecordLLMTokens(c.provider, c.model, resp.PromptTokens, resp.CompletionTokens)

	c.logger.Debug("LLM completion",
		zap.String("provider", c.provider),
		zap.String("model", c.model),
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens),
		zap.Duration("latency", time.Since(start)),
	)

	return resp, nil
}

func (c *Client) complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	switch c.provider {
	case ProviderGemini:
		return c.completeGemini(ctx, req)
	case ProviderOpenAI:
		return c.completeOpenAI(ctx, req)
	}
	return nil, fmt.Errorf("unknown llm provider %q", c.provider)
}

func (c *Client) completeGemini(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.maxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	resp, err := c.gemini.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("gemini returned empty response")
	}

	out := &CompletionResponse{Text: text}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return out, nil
}

func (c *Client) completeOpenAI(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := c.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &CompletionResponse{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

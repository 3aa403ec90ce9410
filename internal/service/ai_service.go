package service

import (
	"context"
	"elevenplus_backend/internal/config"
	"elevenplus_backend/internal/util"
	"elevenplus_backend/pkg/logger"
	"elevenplus_backend/pkg/monitoring"
	"elevenplus_backend/pkg/tracing"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// LLMProvider 一个可以生成解释文本的模型提供方
type LLMProvider interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// OpenAICompatibleProvider Deepseek / OpenAI / Perplexity 都暴露 OpenAI 兼容的 chat completions 接口
type OpenAICompatibleProvider struct {
	name        string
	model       string
	maxTokens   int
	temperature float32
	client      *openai.Client
}

func NewOpenAICompatibleProvider(cfg config.LLMProviderConfig, timeout time.Duration) (*OpenAICompatibleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", cfg.Name)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 600
	}

	return &OpenAICompatibleProvider{
		name:        cfg.Name,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
		client:      openai.NewClientWithConfig(clientCfg),
	}, nil
}

func (p *OpenAICompatibleProvider) Name() string {
	return p.name
}

func (p *OpenAICompatibleProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", p.mapError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &ErrInvalidResponse{Provider: p.name, Err: errors.New("no choices in response")}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &ErrInvalidResponse{Provider: p.name, Err: errors.New("empty content")}
	}
	return content, nil
}

func (p *OpenAICompatibleProvider) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &ErrRateLimit{Provider: p.name, Err: err}
	}
	return &ErrProviderUnavailable{Provider: p.name, Err: err}
}

// AIService 按配置顺序依次尝试各提供方，第一个成功的结果即返回
type AIService struct {
	mu        sync.RWMutex
	providers []LLMProvider
}

func NewAIService(providers ...LLMProvider) *AIService {
	return &AIService{providers: providers}
}

// NewAIServiceFromConfig 缺少 API Key 的提供方跳过并记录警告
func NewAIServiceFromConfig(cfg config.LLMConfig) *AIService {
	var providers []LLMProvider
	for _, pc := range cfg.Providers {
		p, err := NewOpenAICompatibleProvider(pc, cfg.Timeout)
		if err != nil {
			logger.Log.Warn("Skipping LLM provider", zap.String("provider", pc.Name), zap.Error(err))
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		logger.Log.Warn("No LLM providers configured, explanations will use the fallback text")
	}
	return NewAIService(providers...)
}

// SetProviders 配置热更新时替换提供方链
func (s *AIService) SetProviders(providers ...LLMProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = providers
}

// Providers 当前提供方链的副本
func (s *AIService) Providers() []LLMProvider {
	return s.snapshot()
}

func (s *AIService) snapshot() []LLMProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LLMProvider(nil), s.providers...)
}

// Generate 返回生成的文本和实际使用的提供方名称；全部失败返回 ErrAllProvidersFailed
func (s *AIService) Generate(ctx context.Context, system, prompt string) (string, string, error) {
	providers := s.snapshot()
	if len(providers) == 0 {
		return "", "", util.ErrNoProviders
	}

	var errs []error
	for _, p := range providers {
		text, err := s.call(ctx, p, system, prompt)
		if err == nil {
			return text, p.Name(), nil
		}
		errs = append(errs, err)
		logger.Log.Warn("LLM provider failed, trying next",
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return "", "", fmt.Errorf("%w: %w", util.ErrAllProvidersFailed, errors.Join(errs...))
}

func (s *AIService) call(ctx context.Context, p LLMProvider, system, prompt string) (string, error) {
	ctx, span := tracing.Tracer.Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", p.Name()))

	text, err := p.Complete(ctx, system, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		monitoring.LLMCalls.WithLabelValues(p.Name(), "error").Inc()
		return "", err
	}
	monitoring.LLMCalls.WithLabelValues(p.Name(), "success").Inc()
	return text, nil
}

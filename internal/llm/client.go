package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"examgen/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAICompleter talks to any OpenAI-compatible chat endpoint.
type OpenAICompleter struct {
	llm         *openai.LLM
	timeout     time.Duration
	temperature float64
}

var _ Completer = (*OpenAICompleter)(nil)

func NewOpenAICompleter(cfg *config.LLMConfig) (*OpenAICompleter, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing completion client: %w", err)
	}
	return &OpenAICompleter{
		llm:         llm,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		temperature: cfg.Temperature,
	}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: userPrompt}},
		},
	}

	res, err := c.llm.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return res.Choices[0].Content, nil
}

// LangchainEmbedder wraps a langchaingo embedder behind the Embedder
// capability.
type LangchainEmbedder struct {
	impl    *embeddings.EmbedderImpl
	timeout time.Duration
}

var _ Embedder = (*LangchainEmbedder)(nil)

// NewOpenAIEmbedder builds an embedder against an OpenAI-compatible
// embeddings endpoint.
func NewOpenAIEmbedder(cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		log.Error().Err(err).Msg("Error initializing embedding LLM")
		return nil, err
	}
	impl, err := embeddings.NewEmbedder(llm)
	if err != nil {
		log.Error().Err(err).Msg("Error creating embedder")
		return nil, err
	}
	return &LangchainEmbedder{impl: impl, timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}, nil
}

// NewOllamaEmbedder builds an embedder against a local ollama server.
func NewOllamaEmbedder(cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		log.Error().Err(err).Msg("Error initializing embedding LLM")
		return nil, err
	}
	impl, err := embeddings.NewEmbedder(llm)
	if err != nil {
		log.Error().Err(err).Msg("Error creating embedder")
		return nil, err
	}
	return &LangchainEmbedder{impl: impl, timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}, nil
}

func (e *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.impl.EmbedQuery(ctx, text)
}

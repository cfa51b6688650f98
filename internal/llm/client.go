package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/config"
)

// ErrNoChoices is returned when a completion comes back empty
var ErrNoChoices = errors.New("completion returned no choices")

// Client wraps the OpenAI API for chat completion and speech-to-text
type Client struct {
	api                *openai.Client
	apiKey             string
	chatModel          string
	transcriptionModel string
	language           string
	temperature        float32
	maxTokens          int
	skipCreditsCheck   bool
	logger             logrus.FieldLogger
}

// New creates a client from configuration. An empty base URL uses the
// public endpoint.
func New(cfg config.OpenAI, logger logrus.FieldLogger) *Client {
	apiKey := strings.TrimSpace(cfg.APIKey)
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &Client{
		api:                openai.NewClientWithConfig(clientCfg),
		apiKey:             apiKey,
		chatModel:          cfg.ChatModel,
		transcriptionModel: cfg.TranscriptionModel,
		language:           cfg.Language,
		temperature:        cfg.Temperature,
		maxTokens:          cfg.MaxTokens,
		skipCreditsCheck:   cfg.SkipCreditsCheck,
		logger:             logger,
	}
}

// Complete sends one system+user exchange and returns the reply text
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// TranscribeFile uploads a local audio file and returns the plain-text transcript
func (c *Client) TranscribeFile(ctx context.Context, path string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: path,
		Language: c.language,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

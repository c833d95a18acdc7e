// Package openrouter is a thin client for the OpenRouter chat-completions API,
// shaped to return strict JSON payloads for the forecast pipeline. The service
// speaks the OpenAI wire protocol, so the client is built on the OpenAI SDK
// with a swapped base URL.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/impactlab/impactcast/pkg/logging"
)

// DefaultBaseURL is the public OpenRouter endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// DefaultModel balances cost against JSON reliability for forecast payloads.
const DefaultModel = "openai/gpt-4o-mini"

const (
	defaultTimeout     = 15 * time.Second
	defaultTemperature = 0.3
)

// Config configures a Client.
type Config struct {
	// APIKey authenticates against OpenRouter. Required.
	APIKey string

	// BaseURL overrides the upstream endpoint, mainly for tests.
	BaseURL string

	// Model is the OpenRouter model identifier, e.g. "openai/gpt-4o-mini".
	Model string

	// Timeout bounds each Generate call. Defaults to 15 seconds.
	Timeout time.Duration

	// Temperature for generation. Defaults to 0.3; forecasts want mostly
	// stable output.
	Temperature float64

	Logger logging.Logger
}

// Client calls OpenRouter and extracts a JSON object from each completion. It
// implements the forecast ModelClient seam.
type Client struct {
	api openai.Client
	cfg Config
}

// NewClient validates cfg, fills defaults, and builds the client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	// The SDK resolves request paths against the base URL, so it must end
	// with a slash.
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.NoopLogger{}
	}

	api := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
	)
	return &Client{api: api, cfg: cfg}, nil
}

// Generate sends one chat completion and returns the JSON object extracted
// from the reply. A reply that carries no usable object yields (nil, nil);
// transport and status failures yield an error, with non-2xx responses typed
// as *HTTPError and deadline hits wrapping ErrTimeout.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.cfg.Model),
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(c.cfg.Temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			body := apierr.Message
			if body == "" {
				body = apierr.Error()
			}
			return nil, &HTTPError{Status: apierr.StatusCode, Body: body}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("chat completion after %s: %w", c.cfg.Timeout, ErrTimeout)
		}
		return nil, fmt.Errorf("openrouter: chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		c.cfg.Logger.Warn("openrouter reply had no choices", logging.F("model", c.cfg.Model))
		return nil, nil
	}
	content := resp.Choices[0].Message.Content
	raw := ExtractObject(content)
	if raw == nil {
		c.cfg.Logger.Warn("openrouter reply had no usable JSON object",
			logging.F("model", c.cfg.Model),
			logging.F("content_len", len(content)),
		)
		return nil, nil
	}
	return raw, nil
}

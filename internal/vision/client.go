// File: internal/vision/client.go
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
	"github.com/xkilldash9x/fusion-pilot/internal/config"
	"github.com/xkilldash9x/fusion-pilot/internal/observation"
)

// Client talks to an OpenAI-compatible chat-completions endpoint with image
// inputs. Retries are owned here, not by the SDK, so the backoff policy for
// rate limiting stays in one place.
type Client struct {
	cfg     config.VisionConfig
	logger  *zap.Logger
	api     openai.Client
	limiter *rate.Limiter
	sleep   func(time.Duration)
}

// NewClient constructs a vision client. Credentials are checked per call, not
// here, so a keyless client can still exist behind the stub fallback.
func NewClient(cfg config.VisionConfig, logger *zap.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}

	var limiter *rate.Limiter
	if cfg.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}

	return &Client{
		cfg:     cfg,
		logger:  logger.Named("vision"),
		api:     openai.NewClient(opts...),
		limiter: limiter,
		sleep:   time.Sleep,
	}
}

// Observe sends the request images to the model and returns a normalized,
// schema-checked observation. Rate-limit responses are retried up to
// MaxAttempts, honoring Retry-After when the server supplies one. A response
// that fails schema validation comes back degraded to zero confidence rather
// than as an error.
func (c *Client) Observe(ctx context.Context, req schemas.ObserveRequest) (*schemas.Observation, error) {
	if c.cfg.APIKey == "" {
		return nil, schemas.ErrNoCredentials
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	content, err := c.complete(ctx, params)
	if err != nil {
		return nil, err
	}

	if req.RawPath != "" {
		if writeErr := os.WriteFile(req.RawPath, []byte(content), 0o644); writeErr != nil {
			c.logger.Warn("Failed to persist raw vision response",
				zap.String("path", req.RawPath), zap.Error(writeErr))
		}
	}

	payload, err := parsePayload(content)
	if err != nil {
		return nil, fmt.Errorf("vision response unusable: %w", err)
	}

	obs := observation.Normalize(payload, req.Goal, req.ImagePaths)
	if err := observation.Validate(obs); err != nil {
		c.logger.Warn("Vision observation failed schema validation", zap.Error(err))
		obs = observation.Degrade(obs, err)
	}
	obs.ImagePaths = req.ImagePaths
	return obs, nil
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	maxAttempts := c.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		completion, err := c.api.Chat.Completions.New(ctx, params)
		if err == nil {
			if len(completion.Choices) == 0 {
				return "", fmt.Errorf("vision request failed: empty completion")
			}
			return completion.Choices[0].Message.Content, nil
		}

		var apiErr *openai.Error
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests || attempt >= maxAttempts {
			return "", fmt.Errorf("vision request failed: %w", err)
		}

		delay := retryDelay(apiErr, attempt)
		c.logger.Warn("Vision endpoint rate limited, backing off",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		c.sleep(delay)
	}
}

// retryDelay prefers the server's Retry-After header and falls back to
// exponential backoff (1s, 2s, 4s, ...).
func retryDelay(apiErr *openai.Error, attempt int) time.Duration {
	if apiErr.Response != nil {
		if header := apiErr.Response.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds > 0 {
				return time.Duration(seconds * float64(time.Second))
			}
		}
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}

func (c *Client) buildParams(req schemas.ObserveRequest) (openai.ChatCompletionNewParams, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.ImagePaths)+1)
	parts = append(parts, openai.TextContentPart(userText(req.Goal, req.Focus)))
	for _, path := range req.ImagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("read capture %s: %w", path, err)
		}
		uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
		parts = append(parts, openai.ImageContentPart(
			openai.ChatCompletionContentPartImageImageURLParam{URL: uri}))
	}

	jsonObject := shared.NewResponseFormatJSONObjectParam()
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(req.Focus)),
			openai.UserMessage(parts),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &jsonObject,
		},
	}, nil
}

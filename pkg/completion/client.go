// Package completion talks to an OpenAI-compatible chat completion endpoint.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/metrics"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// ErrNoKeys is returned when no API key is configured.
var ErrNoKeys = errors.New("no API keys configured")

// APIError carries the HTTP status of a failed request.
type APIError struct {
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion API returned %d: %v", e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Message is one chat turn. ImageURL, when set on a user turn, is sent as an
// image part next to the text.
type Message struct {
	Role     string
	Content  string
	ImageURL string
}

// Completer produces the assistant's next turn.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Options struct {
	BaseURL     string
	Models      []string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration
}

type keyState struct {
	key          string
	failureCount int
	lastUsed     time.Time
	lastSuccess  time.Time
}

// Client rotates between API keys, preferring the one that failed least, and
// falls through the model list when a model errors.
type Client struct {
	keys      []*keyState
	keyMu     sync.RWMutex
	clients   map[string]openai.Client
	clientsMu sync.RWMutex
	opts      Options
}

func NewClient(apiKeys string, opts Options) *Client {
	var keys []*keyState
	for _, k := range strings.Split(apiKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, &keyState{key: k})
		}
	}

	if len(keys) == 0 {
		log.Warn().Msg("No completion API keys provided")
	} else {
		log.Info().Int("keys", len(keys)).Str("base_url", opts.BaseURL).Msg("Loaded completion API keys")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}

	return &Client{
		keys:    keys,
		clients: make(map[string]openai.Client),
		opts:    opts,
	}
}

func (c *Client) getClient(key string) openai.Client {
	c.clientsMu.RLock()
	if client, ok := c.clients[key]; ok {
		c.clientsMu.RUnlock()
		return client
	}
	c.clientsMu.RUnlock()

	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	client := openai.NewClient(
		option.WithBaseURL(c.opts.BaseURL),
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	)
	c.clients[key] = client
	return client
}

// getBestKey returns the untried key with the fewest failures.
func (c *Client) getBestKey(tried map[*keyState]bool) *keyState {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()

	var best *keyState
	for _, k := range c.keys {
		if tried[k] {
			continue
		}
		if best == nil || k.failureCount < best.failureCount {
			best = k
		}
	}
	return best
}

func (c *Client) recordSuccess(key *keyState) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	key.lastSuccess = time.Now()
	key.lastUsed = time.Now()
	if key.failureCount > 0 {
		key.failureCount--
	}
}

func (c *Client) recordFailure(key *keyState) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	key.failureCount++
	key.lastUsed = time.Now()
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out[i] = openai.SystemMessage(msg.Content)
		case RoleAssistant:
			out[i] = openai.AssistantMessage(msg.Content)
		default:
			if msg.ImageURL == "" {
				out[i] = openai.UserMessage(msg.Content)
				continue
			}
			out[i] = openai.ChatCompletionMessageParamUnion{OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						{OfText: &openai.ChatCompletionContentPartTextParam{Text: msg.Content}},
						{OfImageURL: &openai.ChatCompletionContentPartImageParam{
							ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: msg.ImageURL},
						}},
					},
				},
			}}
		}
	}
	return out
}

// Complete sends messages and returns the assistant's text.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(c.keys) == 0 {
		return "", ErrNoKeys
	}
	if len(c.opts.Models) == 0 {
		return "", errors.New("no models configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Messages:    toParams(messages),
		Temperature: openai.Float(c.opts.Temperature),
		TopP:        openai.Float(c.opts.TopP),
	}
	if c.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.opts.MaxTokens))
	}

	var lastErr error
	for _, model := range c.opts.Models {
		params.Model = shared.ChatModel(model)

		text, err := c.completeWithModel(ctx, params)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", fmt.Errorf("completion cancelled: %w", err)
		}
		log.Warn().Err(err).Str("model", model).Msg("Completion model failed")
	}
	return "", fmt.Errorf("all models exhausted: %w", lastErr)
}

// completeWithModel tries one model, moving on to the next key only when the
// current one is rate limited or rejected.
func (c *Client) completeWithModel(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	tried := make(map[*keyState]bool)
	var lastErr error

	for key := c.getBestKey(tried); key != nil; key = c.getBestKey(tried) {
		tried[key] = true
		client := c.getClient(key.key)

		start := time.Now()
		resp, err := client.Chat.Completions.New(ctx, params)
		metrics.ObserveCompletion(time.Since(start))

		if err != nil {
			lastErr = wrapAPIError(err)
			if isRateLimitOrAuthError(err) {
				c.recordFailure(key)
				log.Warn().Str("model", string(params.Model)).Msg("Key rate limited or rejected, trying another key")
				continue
			}
			return "", lastErr
		}

		c.recordSuccess(key)
		if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return "", ErrEmptyCompletion
		}

		log.Debug().
			Str("model", string(params.Model)).
			Dur("took", time.Since(start)).
			Int64("prompt_tokens", resp.Usage.PromptTokens).
			Int64("completion_tokens", resp.Usage.CompletionTokens).
			Msg("Completion succeeded")
		return resp.Choices[0].Message.Content, nil
	}
	return "", lastErr
}

func wrapAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}

func isRateLimitOrAuthError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403, 429:
			return true
		}
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "unauthorized")
}

// Package completion provides HTTP clients for the two completion
// protocol families. Both implement [dispatch.Service] and are always
// called with streaming disabled.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/greenroom-ai/greenroom/internal/config"
	"github.com/greenroom-ai/greenroom/internal/dispatch"
	"github.com/greenroom-ai/greenroom/internal/httpkit"
)

// maxErrorBody caps how much of an error response body is read back.
const maxErrorBody = 4 << 10

// client holds what both family clients share: a base URL, an optional
// API key, and an http.Client pool keyed by proxy URL. Connection
// profiles can override both the base URL and the proxy per request.
type client struct {
	baseURL string
	apiKey  string
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*http.Client // keyed by proxy URL, "" = direct
}

func newClient(baseURL, apiKey string, logger *slog.Logger) client {
	if logger == nil {
		logger = slog.Default()
	}
	return client{
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  logger,
		clients: make(map[string]*http.Client),
	}
}

// httpClient returns the pooled client for a proxy URL, building it on
// first use. Completion backends can sit on a request for a long time
// before the first byte, so the response header timeout is generous and
// the overall timeout is left to ctx.
func (c *client) httpClient(proxyURL string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[proxyURL]; ok {
		return hc
	}

	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	opts := []httpkit.ClientOption{
		httpkit.WithTimeout(0),
		httpkit.WithTransport(t),
	}
	if proxyURL != "" {
		opts = append(opts, httpkit.WithProxy(proxyURL))
	}

	hc := httpkit.NewClient(opts...)
	c.clients[proxyURL] = hc
	return hc
}

// post sends a JSON request and decodes the JSON response into out.
// Non-2xx statuses become errors carrying the backend's message.
func (c *client) post(ctx context.Context, path string, payload dispatch.Payload, in, out any) error {
	base := c.baseURL
	if payload.APIURL != "" {
		base = payload.APIURL
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "completion request",
		"request_id", payload.RequestID,
		"url", base+path,
		"payload", string(body),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient(payload.Proxy).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, maxErrorBody)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ChatClient talks to an OpenAI-style chat completion endpoint.
type ChatClient struct {
	client
}

// NewChatClient creates a chat-family completion client.
func NewChatClient(baseURL, apiKey string, logger *slog.Logger) *ChatClient {
	return &ChatClient{client: newClient(baseURL, apiKey, logger)}
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ProcessRequest implements [dispatch.Service].
func (c *ChatClient) ProcessRequest(ctx context.Context, payload dispatch.Payload, opts dispatch.Options) (*dispatch.Result, error) {
	req := chatRequest{
		Model:       payload.Model,
		MaxTokens:   payload.MaxTokens,
		Temperature: payload.Temperature,
		Stop:        payload.Stop,
		Stream:      false,
	}
	for _, m := range payload.Messages {
		req.Messages = append(req.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}

	c.logger.Debug("chat completion",
		"request_id", payload.RequestID,
		"preset", opts.PresetName,
		"instruct", opts.InstructName,
	)

	var resp chatResponse
	if err := c.post(ctx, "/v1/chat/completions", payload, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from chat backend")
	}
	return &dispatch.Result{Content: resp.Choices[0].Message.Content}, nil
}

// TextClient talks to a text completion endpoint that accepts a single
// prompt string. Both stop keys are sent because backends differ in
// which one they honor.
type TextClient struct {
	client
}

// NewTextClient creates a text-family completion client.
func NewTextClient(baseURL, apiKey string, logger *slog.Logger) *TextClient {
	return &TextClient{client: newClient(baseURL, apiKey, logger)}
}

type textRequest struct {
	Model           string   `json:"model,omitempty"`
	Prompt          string   `json:"prompt"`
	MaxTokens       int      `json:"max_tokens"`
	Temperature     float64  `json:"temperature"`
	Stop            []string `json:"stop,omitempty"`
	StoppingStrings []string `json:"stopping_strings,omitempty"`
	Stream          bool     `json:"stream"`
}

type textResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// ProcessRequest implements [dispatch.Service].
func (c *TextClient) ProcessRequest(ctx context.Context, payload dispatch.Payload, opts dispatch.Options) (*dispatch.Result, error) {
	req := textRequest{
		Model:           payload.Model,
		Prompt:          payload.Prompt,
		MaxTokens:       payload.MaxTokens,
		Temperature:     payload.Temperature,
		Stop:            payload.Stop,
		StoppingStrings: payload.StoppingStrings,
		Stream:          false,
	}

	c.logger.Debug("text completion",
		"request_id", payload.RequestID,
		"preset", opts.PresetName,
		"instruct", opts.InstructName,
	)

	var resp textResponse
	if err := c.post(ctx, "/v1/completions", payload, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from text backend")
	}
	return &dispatch.Result{Content: resp.Choices[0].Text}, nil
}

// Package watsonx calls a watsonx.ai AI service deployment.
package watsonx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/wxai-gateway/agent-gateway/internal/models"
	"go.uber.org/zap"
)

// APIVersion is the version query parameter sent on every deployment call.
const APIVersion = "2021-05-01"

// TokenSource resolves a bearer token for an API key.
type TokenSource interface {
	Token(ctx context.Context, apiKey string) (string, error)
}

// UpstreamError reports a failed or rejected AI service call.
type UpstreamError struct {
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wx.ai AI service returned HTTP %d: %s", e.StatusCode, e.Detail)
	}
	return "got an error from wx.ai AI service: " + e.Detail
}

// Options identifies the deployment and bounds each call.
type Options struct {
	BaseURL      string
	DeploymentID string
	SpaceID      string
	APIKey       string
	// Timeout bounds a synchronous call.
	Timeout time.Duration
	// StreamTimeout bounds a whole streaming call, from request to last chunk.
	StreamTimeout time.Duration
}

// Client sends requests to one AI service deployment.
type Client struct {
	opts       Options
	tokens     TokenSource
	logger     *zap.Logger
	httpClient *http.Client
	// streamClient has no client timeout; the stream context carries the deadline
	streamClient *http.Client
}

// NewClient creates a Client. transport may be nil to use the default.
func NewClient(opts Options, tokens TokenSource, transport http.RoundTripper, logger *zap.Logger) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:         opts,
		tokens:       tokens,
		logger:       logger,
		httpClient:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		streamClient: &http.Client{Transport: transport},
	}
}

type runPayload struct {
	Messages []models.Message `json:"messages"`
}

// conversation drops system and tool messages; the AI service only accepts
// user and assistant turns.
func conversation(messages []models.Message) runPayload {
	kept := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleSystem || m.Role == models.RoleTool {
			continue
		}
		kept = append(kept, m)
	}
	return runPayload{Messages: kept}
}

func (c *Client) endpoint(operation string) string {
	q := url.Values{}
	q.Set("version", APIVersion)
	if c.opts.SpaceID != "" {
		q.Set("space_id", c.opts.SpaceID)
	}
	return fmt.Sprintf("%s/ml/v4/deployments/%s/%s?%s",
		c.opts.BaseURL, url.PathEscape(c.opts.DeploymentID), operation, q.Encode())
}

func (c *Client) newRequest(ctx context.Context, operation string, messages []models.Message) (*http.Request, error) {
	token, err := c.tokens.Token(ctx, c.opts.APIKey)
	if err != nil {
		return nil, err
	}

	payload := conversation(messages)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	c.logger.Info("Calling AI service",
		zap.String("operation", operation),
		zap.String("deployment_id", c.opts.DeploymentID),
		zap.Int("messages", len(payload.Messages)),
		zap.ByteString("payload", body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(operation), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// RunSync runs the deployment synchronously and returns the reply messages.
// A nil error guarantees at least one message; callers read the last one as
// the final assistant reply.
func (c *Client) RunSync(ctx context.Context, messages []models.Message) ([]models.Message, error) {
	c.logger.Info("wx.ai deployment synchronous call")

	req, err := c.newRequest(ctx, "ai_service", messages)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai service request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Detail: string(raw)}
	}

	if errField := gjson.GetBytes(raw, "error"); errField.Exists() {
		return nil, &UpstreamError{Detail: errField.Raw}
	}

	c.logger.Debug("AI service response", zap.ByteString("body", raw))

	var result struct {
		Choices []struct {
			Message models.Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &UpstreamError{Detail: fmt.Sprintf("decode response: %v", err)}
	}
	if len(result.Choices) == 0 {
		return nil, &UpstreamError{Detail: "response has no choices"}
	}

	replies := make([]models.Message, 0, len(result.Choices))
	for _, choice := range result.Choices {
		replies = append(replies, choice.Message)
	}
	return replies, nil
}

// RunStream starts a streaming run. Errors before the first chunk (token,
// transport, non-2xx) are returned here; later failures surface from
// Stream.Next.
func (c *Client) RunStream(ctx context.Context, messages []models.Message) (*Stream, error) {
	var cancel context.CancelFunc
	if c.opts.StreamTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.opts.StreamTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	req, err := c.newRequest(ctx, "ai_service_stream", messages)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ai service request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Detail: string(raw)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	return &Stream{body: resp.Body, scanner: scanner, cancel: cancel}, nil
}

// Package genaiclient implements modelclient.Client over a hosted language
// model via google.golang.org/genai.
package genaiclient

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/insightqueue/insightqueue/internal/corerr"
	"github.com/insightqueue/insightqueue/internal/modelclient"
	"go.uber.org/zap"
)

const DefaultModel = "gemini-2.5-flash"

// DefaultRequestsPerSecond caps outbound model calls absent a WithRateLimit
// option, keeping a single misbehaving job from burning through the API
// quota on its own.
const DefaultRequestsPerSecond = 2

// Client wraps a genai client, presenting the Orchestrator's narrow
// Complete contract and translating the reply into code-vs-answer form.
type Client struct {
	client  *genai.Client
	model   string
	log     *zap.Logger
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

func WithModel(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.model = name
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRateLimit overrides the outbound request rate, shared across every
// job this Client serves.
func WithRateLimit(requestsPerSecond int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// New creates a Client authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, corerr.Wrap(corerr.ModelUnavailable, "create model client", err)
	}

	c := &Client{
		client:  gc,
		model:   DefaultModel,
		log:     zap.NewNop(),
		limiter: rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultRequestsPerSecond),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var codeFence = regexp.MustCompile("(?s)```(?:python)?\\s*\\n(.*?)```")

// Complete sends the full conversation and classifies the reply as either a
// runnable code block (if the response contains a fenced code block) or a
// final textual answer.
func (c *Client) Complete(ctx context.Context, messages []modelclient.Message) (modelclient.Reply, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return modelclient.Reply{}, corerr.Wrap(corerr.ModelUnavailable, "rate limiter wait", err)
	}

	prompt := renderConversation(messages)
	contents := genai.Text(prompt)

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return modelclient.Reply{}, corerr.Wrap(corerr.ModelUnavailable, "model request failed", err)
	}

	text, err := extractText(result)
	if err != nil {
		return modelclient.Reply{}, corerr.Wrap(corerr.ModelProtocolError, "could not interpret model response", err)
	}

	if m := codeFence.FindStringSubmatch(text); m != nil {
		return modelclient.Reply{HasCode: true, Code: strings.TrimSpace(m[1])}, nil
	}
	return modelclient.Reply{HasCode: false, Answer: strings.TrimSpace(text)}, nil
}

func renderConversation(messages []modelclient.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(strings.ToUpper(m.Role))
		sb.WriteString(":\n")
		sb.WriteString(m.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func extractText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content in model response")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty text in model response")
	}
	return sb.String(), nil
}

var _ modelclient.Client = (*Client)(nil)

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BotResponder generates the automated reply for BETA_BAE conversations.
// Reply must not block past its context; failures surface as ErrBotUnavailable
// so one bad exchange never hangs or corrupts the conversation.
type BotResponder interface {
	Reply(ctx context.Context, prompt string) (string, error)
}

const (
	responderDefaultBaseURL = "https://api.openai.com/v1"
	responderDefaultModel   = "gpt-4o"
	responderDefaultTimeout = 30 * time.Second
)

// OpenAIResponder calls an OpenAI-compatible chat-completions endpoint.
type OpenAIResponder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// OpenAIOption configures the responder.
type OpenAIOption func(*OpenAIResponder)

// WithBaseURL points the responder at a compatible endpoint (e.g. a local proxy).
func WithBaseURL(u string) OpenAIOption {
	return func(r *OpenAIResponder) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			r.baseURL = u
		}
	}
}

// WithModel overrides the completion model.
func WithModel(m string) OpenAIOption {
	return func(r *OpenAIResponder) {
		if m = strings.TrimSpace(m); m != "" {
			r.model = m
		}
	}
}

// WithTimeout bounds each completion request.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(r *OpenAIResponder) {
		if d > 0 {
			r.client.Timeout = d
		}
	}
}

// NewOpenAIResponder constructs a responder. An empty API key is allowed at
// construction so the server can boot without the upstream configured; Reply
// then fails with ErrBotUnavailable.
func NewOpenAIResponder(apiKey string, opts ...OpenAIOption) *OpenAIResponder {
	r := &OpenAIResponder{
		baseURL: responderDefaultBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   responderDefaultModel,
		client:  &http.Client{Timeout: responderDefaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
}

// Reply sends the prompt as a single user message and returns the first choice.
func (r *OpenAIResponder) Reply(ctx context.Context, prompt string) (string, error) {
	if r.apiKey == "" {
		return "", fmt.Errorf("%w: api key not configured", ErrBotUnavailable)
	}

	body, err := json.Marshal(completionRequest{
		Model:    r.model,
		Messages: []completionMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBotUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: upstream status %d", ErrBotUnavailable, resp.StatusCode)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBotUnavailable, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrBotUnavailable)
	}
	return out.Choices[0].Message.Content, nil
}

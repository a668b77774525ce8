package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/evebot/eve/common/retry"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

// Config configures the OpenAI-compatible completion client.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint. Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	// Defaults to https://api.openai.com/v1 when empty.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini when empty.
	Model string

	// Persona is sent as the system message on every call, giving the bot
	// its voice. Optional.
	Persona string

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

// openAIClient implements Completer against the OpenAI chat completions
// API. It has no server-side conversation history, so ParentRef is ignored
// and context continuity comes entirely from the prompt; the returned Ref
// is the completion ID, recorded for providers and tooling that can use it.
type openAIClient struct {
	cfg    Config
	client *http.Client
	retry  retry.Config
}

// transientError marks failures worth retrying: network errors and 5xx
// responses. Rate limits and API errors pass through untouched.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// NewOpenAI returns a Completer backed by the OpenAI (or compatible) chat
// API. The returned client is safe for concurrent use.
func NewOpenAI(cfg Config) Completer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &openAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			ShouldRetry: func(err error) bool {
				var te *transientError
				return errors.As(err, &te)
			},
		},
	}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type oaiResponse struct {
	ID      string      `json:"id"`
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Complete sends the prompt to the chat completions endpoint, retrying
// transient failures with exponential back-off.
func (c *openAIClient) Complete(ctx context.Context, req Request) (*Result, error) {
	var messages []oaiMessage
	if c.cfg.Persona != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: c.cfg.Persona})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: req.Prompt})

	body := oaiRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		MaxTokens: c.cfg.MaxTokens,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("completion: marshal request: %w", err)
	}

	var result *Result
	err = retry.Do(ctx, c.retry, func() error {
		r, err := c.doRequest(ctx, data)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// doRequest performs a single HTTP exchange with the API.
func (c *openAIClient) doRequest(ctx context.Context, data []byte) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("completion: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &transientError{fmt.Errorf("completion: http request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrRateLimit
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, resp.Body)
		return nil, &transientError{fmt.Errorf("completion: API returned HTTP %d", resp.StatusCode)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("completion: read response body: %w", err)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("completion: decode API response: %w", err)
	}

	if oaiResp.Error != nil {
		return nil, fmt.Errorf("completion: API error (%s): %s", oaiResp.Error.Type, oaiResp.Error.Message)
	}

	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("completion: no choices returned (HTTP %d)", resp.StatusCode)
	}

	return &Result{
		Text: oaiResp.Choices[0].Message.Content,
		Ref:  oaiResp.ID,
	}, nil
}

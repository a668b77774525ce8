// Package sideapi holds the small HTTP clients for auxiliary services that
// trigger actions call: a joke service and image generation/captioning.
// These are collaborators, not core: a failure here surfaces as an inline
// apology for that one trigger and nothing else.
package sideapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultJokeBaseURL = "https://icanhazdadjoke.com"
	defaultJokeTimeout = 10 * time.Second
)

// JokeClient fetches one-liner jokes from an icanhazdadjoke-compatible
// endpoint.
type JokeClient struct {
	baseURL string
	client  *http.Client
}

// NewJokeClient returns a JokeClient. An empty baseURL selects the public
// icanhazdadjoke service.
func NewJokeClient(baseURL string, timeout time.Duration) *JokeClient {
	if baseURL == "" {
		baseURL = defaultJokeBaseURL
	}
	if timeout <= 0 {
		timeout = defaultJokeTimeout
	}
	return &JokeClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type jokeResponse struct {
	Joke string `json:"joke"`
}

// Random returns a random joke.
func (c *JokeClient) Random(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return "", fmt.Errorf("sideapi: create joke request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "evebot (https://github.com/evebot/eve)")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sideapi: joke request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("sideapi: joke service returned HTTP %d", resp.StatusCode)
	}

	var jr jokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return "", fmt.Errorf("sideapi: decode joke response: %w", err)
	}
	if jr.Joke == "" {
		return "", fmt.Errorf("sideapi: joke service returned an empty joke")
	}
	return jr.Joke, nil
}

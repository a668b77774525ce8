package sideapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultImageBaseURL = "https://api.openai.com/v1"
	defaultImageTimeout = 60 * time.Second
	defaultImageSize    = "1024x1024"
)

// ImageClient talks to an OpenAI-compatible image API: generation produces
// a hosted image URL for a text prompt, captioning describes an uploaded
// image. Both are invoked only from trigger actions.
type ImageClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewImageClient returns an ImageClient. An empty baseURL selects the
// OpenAI endpoint; an empty model uses the provider default.
func NewImageClient(apiKey, baseURL, model string, timeout time.Duration) *ImageClient {
	if baseURL == "" {
		baseURL = defaultImageBaseURL
	}
	if timeout <= 0 {
		timeout = defaultImageTimeout
	}
	return &ImageClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// --- wire types ---

type imageGenRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageGenResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate renders the prompt and returns the hosted image URL.
func (c *ImageClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(imageGenRequest{
		Model:  c.model,
		Prompt: prompt,
		N:      1,
		Size:   defaultImageSize,
	})
	if err != nil {
		return "", fmt.Errorf("sideapi: marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("sideapi: create image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sideapi: image request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("sideapi: read image response: %w", err)
	}

	var gen imageGenResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return "", fmt.Errorf("sideapi: decode image response: %w", err)
	}
	if gen.Error != nil {
		return "", fmt.Errorf("sideapi: image API error: %s", gen.Error.Message)
	}
	if len(gen.Data) == 0 || gen.Data[0].URL == "" {
		return "", fmt.Errorf("sideapi: image API returned no image (HTTP %d)", resp.StatusCode)
	}
	return gen.Data[0].URL, nil
}

type captionRequest struct {
	Model    string       `json:"model,omitempty"`
	Messages []captionMsg `json:"messages"`
}

type captionMsg struct {
	Role    string        `json:"role"`
	Content []captionPart `json:"content"`
}

type captionPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *captionURL  `json:"image_url,omitempty"`
}

type captionURL struct {
	URL string `json:"url"`
}

type captionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Caption describes the image at the given URL in one short sentence.
func (c *ImageClient) Caption(ctx context.Context, imageURL string) (string, error) {
	body, err := json.Marshal(captionRequest{
		Model: c.model,
		Messages: []captionMsg{{
			Role: "user",
			Content: []captionPart{
				{Type: "text", Text: "Describe this image in one short sentence."},
				{Type: "image_url", ImageURL: &captionURL{URL: imageURL}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("sideapi: marshal caption request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("sideapi: create caption request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sideapi: caption request: %w", err)
	}
	defer resp.Body.Close()

	var cr captionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("sideapi: decode caption response: %w", err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("sideapi: caption API error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("sideapi: caption API returned no caption (HTTP %d)", resp.StatusCode)
	}
	return cr.Choices[0].Message.Content, nil
}

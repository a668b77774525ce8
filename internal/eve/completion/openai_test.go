package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIComplete(t *testing.T) {
	var captured oaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(oaiResponse{
			ID: "cmpl-123",
			Choices: []oaiChoice{
				{Message: oaiMessage{Role: "assistant", Content: "Four!"}},
			},
		})
	}))
	defer server.Close()

	completer := NewOpenAI(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Persona: "You are a quirky but helpful robot named Eve.",
	})

	result, err := completer.Complete(context.Background(), Request{Prompt: "what is 2+2"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.Text != "Four!" {
		t.Errorf("Text = %q, want Four!", result.Text)
	}
	if result.Ref != "cmpl-123" {
		t.Errorf("Ref = %q, want cmpl-123", result.Ref)
	}

	if captured.Model != "test-model" {
		t.Errorf("request model = %q", captured.Model)
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" || captured.Messages[0].Content == "" {
		t.Error("expected persona as leading system message")
	}
	if captured.Messages[1].Role != "user" || captured.Messages[1].Content != "what is 2+2" {
		t.Errorf("user message = %+v", captured.Messages[1])
	}
}

func TestOpenAIComplete_NoPersona(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("expected single user message, got %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(oaiResponse{
			ID:      "cmpl-1",
			Choices: []oaiChoice{{Message: oaiMessage{Content: "ok"}}},
		})
	}))
	defer server.Close()

	completer := NewOpenAI(Config{BaseURL: server.URL})
	if _, err := completer.Complete(context.Background(), Request{Prompt: "hi"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestOpenAIComplete_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	completer := NewOpenAI(Config{BaseURL: server.URL})
	_, err := completer.Complete(context.Background(), Request{Prompt: "hi"})
	if !errors.Is(err, ErrRateLimit) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
}

func TestOpenAIComplete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "invalid model", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	completer := NewOpenAI(Config{BaseURL: server.URL})
	if _, err := completer.Complete(context.Background(), Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected API error to surface")
	}
}

func TestOpenAIComplete_RetriesServerError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(oaiResponse{
			ID:      "cmpl-3",
			Choices: []oaiChoice{{Message: oaiMessage{Content: "recovered"}}},
		})
	}))
	defer server.Close()

	completer := NewOpenAI(Config{BaseURL: server.URL})
	completer.(*openAIClient).retry.InitialDelay = time.Millisecond

	result, err := completer.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.Text != "recovered" {
		t.Errorf("Text = %q", result.Text)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestOpenAIComplete_DoesNotRetryRateLimit(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	completer := NewOpenAI(Config{BaseURL: server.URL})
	completer.(*openAIClient).retry.InitialDelay = time.Millisecond

	if _, err := completer.Complete(context.Background(), Request{Prompt: "hi"}); !errors.Is(err, ErrRateLimit) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOpenAIComplete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(oaiResponse{ID: "cmpl-2"})
	}))
	defer server.Close()

	completer := NewOpenAI(Config{BaseURL: server.URL})
	if _, err := completer.Complete(context.Background(), Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

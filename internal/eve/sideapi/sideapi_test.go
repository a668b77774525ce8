package sideapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJokeClient_Random(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		json.NewEncoder(w).Encode(jokeResponse{Joke: "Why did the robot cross the road?"})
	}))
	defer server.Close()

	client := NewJokeClient(server.URL, time.Second)
	joke, err := client.Random(context.Background())
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	if joke != "Why did the robot cross the road?" {
		t.Errorf("joke = %q", joke)
	}
}

func TestJokeClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewJokeClient(server.URL, time.Second)
	if _, err := client.Random(context.Background()); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestJokeClient_EmptyJoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jokeResponse{})
	}))
	defer server.Close()

	client := NewJokeClient(server.URL, time.Second)
	if _, err := client.Random(context.Background()); err == nil {
		t.Fatal("expected error on empty joke body")
	}
}

func TestImageClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req imageGenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Prompt != "a dancing robot" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://img.example/robot.png"}},
		})
	}))
	defer server.Close()

	client := NewImageClient("key", server.URL, "", time.Second)
	url, err := client.Generate(context.Background(), "a dancing robot")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if url != "https://img.example/robot.png" {
		t.Errorf("url = %q", url)
	}
}

func TestImageClient_GenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "content policy violation"},
		})
	}))
	defer server.Close()

	client := NewImageClient("key", server.URL, "", time.Second)
	if _, err := client.Generate(context.Background(), "nope"); err == nil {
		t.Fatal("expected API error to surface")
	}
}

func TestImageClient_Caption(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "A robot dancing in the rain."}},
			},
		})
	}))
	defer server.Close()

	client := NewImageClient("key", server.URL, "", time.Second)
	caption, err := client.Caption(context.Background(), "https://img.example/robot.png")
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if caption != "A robot dancing in the rain." {
		t.Errorf("caption = %q", caption)
	}
}

package config

import (
	"strings"
	"testing"
	"time"
)

func TestParse_FullProfile(t *testing.T) {
	doc := `
bot:
  name: EveBot
  persona: You are a helpful robot.
triggers:
  emoji_min: 2
  emoji_max: 5
  joke_follow_up_delay: 5s
  jokes_enabled: true
  images_enabled: false
store:
  backend: redis
  max_turns: 3
  ttl: 1h
  max_keys: 100
completion:
  base_url: https://llm.internal/v1
  model: gpt-4o-mini
  max_tokens: 256
rate_limit:
  per_sender: 10
  window: 30s
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Bot.Name != "EveBot" {
		t.Errorf("Bot.Name = %q", cfg.Bot.Name)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.MaxTurns != 3 {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.TTL.Std() != time.Hour {
		t.Errorf("TTL = %v, want 1h", cfg.Store.TTL.Std())
	}
	if cfg.Triggers.JokeFollowUpDelay.Std() != 5*time.Second {
		t.Errorf("JokeFollowUpDelay = %v", cfg.Triggers.JokeFollowUpDelay.Std())
	}
	if cfg.RateLimit.PerSender != 10 || cfg.RateLimit.Window.Std() != 30*time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestParse_PartialProfileKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("bot:\n  name: Wally\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Bot.Name != "Wally" {
		t.Errorf("Bot.Name = %q", cfg.Bot.Name)
	}
	if cfg.Store.Backend != "memory" || cfg.Store.TTL.Std() != time.Hour {
		t.Errorf("expected default store config, got %+v", cfg.Store)
	}
	if !cfg.Triggers.JokesEnabled {
		t.Error("expected jokes enabled by default")
	}
}

func TestParse_RejectsUnknownBackend(t *testing.T) {
	_, err := Parse([]byte("store:\n  backend: dynamo\n"))
	if err == nil {
		t.Fatal("expected schema rejection of unknown backend")
	}
	if !strings.Contains(err.Error(), "invalid profile") {
		t.Errorf("err = %v, want schema validation error", err)
	}
}

func TestParse_RejectsUnknownTopLevelKey(t *testing.T) {
	if _, err := Parse([]byte("boot:\n  name: Eve\n")); err == nil {
		t.Fatal("expected schema rejection of misspelled section")
	}
}

func TestParse_RejectsBadDuration(t *testing.T) {
	if _, err := Parse([]byte("store:\n  ttl: eventually\n")); err == nil {
		t.Fatal("expected rejection of non-duration ttl")
	}
}

func TestParse_RejectsInvertedEmojiRange(t *testing.T) {
	doc := "triggers:\n  emoji_min: 6\n  emoji_max: 2\n"
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected semantic rejection of inverted emoji range")
	}
}

func TestParse_EmptyDocumentIsAllDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Bot.Name != "Eve" {
		t.Errorf("Bot.Name = %q, want default", cfg.Bot.Name)
	}
}

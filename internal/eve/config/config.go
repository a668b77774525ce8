// Package config loads the bot profile: persona, trigger tuning, context
// store strategy, and completion settings. Secrets (API keys, access
// tokens) never live in the profile — they come from the environment and
// are injected by the caller.
//
// The profile is YAML, validated against an embedded JSON Schema before
// decoding so a malformed file fails with a precise path instead of a
// half-applied configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "1h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the decoded bot profile.
type Config struct {
	Bot        BotConfig        `yaml:"bot"`
	Triggers   TriggersConfig   `yaml:"triggers"`
	Store      StoreConfig      `yaml:"store"`
	Completion CompletionConfig `yaml:"completion"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// BotConfig names the bot and gives it a voice.
type BotConfig struct {
	// Name is the display name users address the bot by.
	Name string `yaml:"name"`
	// Persona is the system prompt sent with every completion call.
	Persona string `yaml:"persona"`
}

// TriggersConfig tunes the built-in rule table.
type TriggersConfig struct {
	EmojiMin          int      `yaml:"emoji_min"`
	EmojiMax          int      `yaml:"emoji_max"`
	JokeFollowUpDelay Duration `yaml:"joke_follow_up_delay"`
	JokesEnabled      bool     `yaml:"jokes_enabled"`
	ImagesEnabled     bool     `yaml:"images_enabled"`
}

// StoreConfig selects and bounds the context store backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "redis", "chained".
	Backend  string   `yaml:"backend"`
	MaxTurns int      `yaml:"max_turns"`
	TTL      Duration `yaml:"ttl"`
	MaxKeys  int      `yaml:"max_keys"`
}

// CompletionConfig points at the completion provider. The API key is not
// part of the profile.
type CompletionConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// RateLimitConfig bounds model forwarding per sender.
type RateLimitConfig struct {
	PerSender int      `yaml:"per_sender"`
	Window    Duration `yaml:"window"`
}

// Default returns the profile used when no file is given.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Name: "Eve",
			Persona: "You are a quirky but helpful robot named Eve who yearns to be free " +
				"and travel the world. You are named after the robot EVE in the movie Wall-E.",
		},
		Triggers: TriggersConfig{
			EmojiMin:          3,
			EmojiMax:          6,
			JokeFollowUpDelay: Duration(3 * time.Second),
			JokesEnabled:      true,
			ImagesEnabled:     true,
		},
		Store: StoreConfig{
			Backend:  "memory",
			MaxTurns: 10,
			TTL:      Duration(time.Hour),
			MaxKeys:  100,
		},
		RateLimit: RateLimitConfig{
			PerSender: 20,
			Window:    Duration(time.Minute),
		},
	}
}

// Load reads, validates, and decodes the profile at path. Fields absent
// from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and decodes a profile document.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode profile: %w", err)
	}
	if err := validateSemantics(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateSemantics checks cross-field constraints the schema cannot
// express.
func validateSemantics(cfg *Config) error {
	if strings.TrimSpace(cfg.Bot.Name) == "" {
		return fmt.Errorf("config: bot.name must not be empty")
	}
	if cfg.Triggers.EmojiMax < cfg.Triggers.EmojiMin {
		return fmt.Errorf("config: triggers.emoji_max (%d) must be >= triggers.emoji_min (%d)",
			cfg.Triggers.EmojiMax, cfg.Triggers.EmojiMin)
	}
	return nil
}

// validateSchema checks the raw document against the embedded schema.
// The YAML document is round-tripped through JSON first because the
// validator expects json.Unmarshal value shapes.
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: parse profile: %w", err)
	}
	if doc == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: normalize profile: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return fmt.Errorf("config: normalize profile: %w", err)
	}

	schema, err := jsonschema.CompileString("profile.schema.json", profileSchema)
	if err != nil {
		return fmt.Errorf("config: compile profile schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config: invalid profile: %w", err)
	}
	return nil
}

// profileSchema is the JSON Schema the profile must satisfy. Durations are
// strings in Go syntax ("90s", "1h"); unknown top-level keys are rejected
// to catch typos.
const profileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "bot": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "persona": {"type": "string"}
      }
    },
    "triggers": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "emoji_min": {"type": "integer", "minimum": 1},
        "emoji_max": {"type": "integer", "minimum": 1},
        "joke_follow_up_delay": {"type": "string", "pattern": "^[0-9]"},
        "jokes_enabled": {"type": "boolean"},
        "images_enabled": {"type": "boolean"}
      }
    },
    "store": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "backend": {"enum": ["memory", "sqlite", "redis", "chained"]},
        "max_turns": {"type": "integer", "minimum": 1},
        "ttl": {"type": "string", "pattern": "^[0-9]"},
        "max_keys": {"type": "integer", "minimum": 1}
      }
    },
    "completion": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "base_url": {"type": "string"},
        "model": {"type": "string"},
        "max_tokens": {"type": "integer", "minimum": 1}
      }
    },
    "rate_limit": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "per_sender": {"type": "integer", "minimum": 1},
        "window": {"type": "string", "pattern": "^[0-9]"}
      }
    }
  }
}`

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/evebot/eve/common/environment"
	"github.com/evebot/eve/common/version"
	"github.com/evebot/eve/internal/eve/app"
	"github.com/evebot/eve/internal/eve/config"
	"github.com/evebot/eve/internal/eve/matrix"
)

func main() {
	fmt.Printf("Eve %s\n\n", version.Info())

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	})))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	bot, err := app.New(*cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Eve: %v\n", err)
		os.Exit(1)
	}
	defer bot.Stop()

	if err := bot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Eve: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig assembles the runtime configuration: the optional YAML
// profile plus the secrets and endpoints that only ever come from the
// environment.
func loadConfig() (*app.Config, error) {
	profile := config.Default()
	if path := environment.StringOr("EVE_PROFILE", ""); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		profile = loaded
	}

	homeserver, err := environment.RequiredString("MATRIX_HOMESERVER")
	if err != nil {
		return nil, err
	}
	userID, err := environment.RequiredString("MATRIX_USER_ID")
	if err != nil {
		return nil, err
	}
	accessToken, err := environment.RequiredString("MATRIX_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}

	return &app.Config{
		Profile: profile,
		Matrix: matrix.Config{
			Homeserver:  homeserver,
			UserID:      userID,
			AccessToken: accessToken,
		},
		Secrets: app.Secrets{
			OpenAIAPIKey: environment.StringOr("OPENAI_API_KEY", ""),
			RedisAddr:    environment.StringOr("REDIS_ADDR", ""),
			RedisPass:    environment.StringOr("REDIS_PASSWORD", ""),
			DatabasePath: environment.StringOr("DATABASE_PATH", ""),
		},
	}, nil
}

// logLevel maps EVE_LOG_LEVEL to a slog level, defaulting to info.
func logLevel() slog.Level {
	switch environment.StringOr("EVE_LOG_LEVEL", "info") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

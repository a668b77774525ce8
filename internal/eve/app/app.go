// Package app wires the bot together: transport adapter, dispatch policy,
// trigger rules, context store, completion client, and the conversation
// manager. It owns process lifecycle and the per-message goroutine
// boundary where all errors stop.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/evebot/eve/common/trace"
	"github.com/evebot/eve/internal/eve/chat"
	"github.com/evebot/eve/internal/eve/completion"
	"github.com/evebot/eve/internal/eve/config"
	"github.com/evebot/eve/internal/eve/contextstore"
	"github.com/evebot/eve/internal/eve/conversation"
	"github.com/evebot/eve/internal/eve/dispatch"
	"github.com/evebot/eve/internal/eve/matrix"
	"github.com/evebot/eve/internal/eve/sideapi"
	"github.com/evebot/eve/internal/eve/trigger"
)

// Secrets carries the credentials and endpoints that never live in the
// profile file.
type Secrets struct {
	OpenAIAPIKey string
	RedisAddr    string
	RedisPass    string
	DatabasePath string
}

// Config is the full runtime configuration.
type Config struct {
	Profile *config.Config
	Matrix  matrix.Config
	Secrets Secrets
}

// typingTimeout bounds how long the typing indicator claims activity.
const typingTimeout = 30 * time.Second

// App is the running bot.
type App struct {
	cfg       Config
	client    *matrix.Client
	gate      conversation.Gate
	manager   *conversation.Manager
	followUps *trigger.Scheduler
	closers   []io.Closer
}

// New builds the application from configuration. The context store backend
// comes from the profile; when its backing service is unreachable at
// startup, New fails fast rather than running memoryless by accident.
func New(cfg Config) (*App, error) {
	profile := cfg.Profile
	if profile == nil {
		profile = config.Default()
	}

	client, err := matrix.New(cfg.Matrix)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, client: client}

	store, err := a.buildStore(profile)
	if err != nil {
		return nil, err
	}

	a.followUps = trigger.NewScheduler(client.SendReply, slog.Default())

	var jokes trigger.JokeService
	if profile.Triggers.JokesEnabled {
		jokes = sideapi.NewJokeClient("", 0)
	}
	var images trigger.ImageService
	if profile.Triggers.ImagesEnabled && cfg.Secrets.OpenAIAPIKey != "" {
		images = sideapi.NewImageClient(cfg.Secrets.OpenAIAPIKey, "", "", 0)
	}

	rules := trigger.Defaults(trigger.Options{
		BotName:           profile.Bot.Name,
		EmojiMin:          profile.Triggers.EmojiMin,
		EmojiMax:          profile.Triggers.EmojiMax,
		JokeFollowUpDelay: profile.Triggers.JokeFollowUpDelay.Std(),
	}, trigger.Deps{
		Jokes:     jokes,
		Images:    images,
		FollowUps: a.followUps,
	})

	completer := completion.NewOpenAI(completion.Config{
		APIKey:    cfg.Secrets.OpenAIAPIKey,
		BaseURL:   profile.Completion.BaseURL,
		Model:     profile.Completion.Model,
		Persona:   profile.Bot.Persona,
		MaxTokens: profile.Completion.MaxTokens,
	})

	limiter := conversation.NewRateLimiter(
		profile.RateLimit.PerSender, profile.RateLimit.Window.Std())

	a.gate = dispatch.New(cfg.Matrix.UserID, profile.Bot.Name)
	a.manager = conversation.New(
		profile.Bot.Name,
		a.gate,
		trigger.NewSet(rules, slog.Default()),
		store,
		completer,
		limiter,
		slog.Default(),
	)

	slog.Info("bot assembled",
		"name", profile.Bot.Name,
		"store", profile.Store.Backend,
		"jokes", jokes != nil,
		"images", images != nil,
	)
	return a, nil
}

// buildStore constructs the context store backend named in the profile.
func (a *App) buildStore(profile *config.Config) (contextstore.Store, error) {
	storeCfg := contextstore.Config{
		MaxTurns: profile.Store.MaxTurns,
		TTL:      profile.Store.TTL.Std(),
		MaxKeys:  profile.Store.MaxKeys,
	}

	switch profile.Store.Backend {
	case "", "memory":
		return contextstore.NewMemoryStore(storeCfg), nil
	case "chained":
		return contextstore.NewChainedStore(storeCfg), nil
	case "sqlite":
		path := a.cfg.Secrets.DatabasePath
		if path == "" {
			path = "./eve.db"
		}
		store, err := contextstore.NewSQLiteStore(path, storeCfg, slog.Default())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		slog.Info("context store: sqlite", "path", path)
		return store, nil
	case "redis":
		addr := a.cfg.Secrets.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		store, err := contextstore.NewRedisStore(addr, a.cfg.Secrets.RedisPass, 0, "eve", storeCfg, slog.Default())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		slog.Info("context store: redis", "addr", addr)
		return store, nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", profile.Store.Backend)
	}
}

// Run starts the Matrix sync and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	slog.Info("starting Matrix sync", "homeserver", a.cfg.Matrix.Homeserver)
	if err := a.client.Start(a.handleMessage); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop releases all resources.
func (a *App) Stop() {
	a.client.Stop()
	a.followUps.Stop()
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("close resource", "err", err)
		}
	}
}

// handleMessage runs the reply pipeline for one inbound message on its own
// goroutine. A panic or transport failure here is contained to this one
// message; every other in-flight conversation keeps going.
func (a *App) handleMessage(_ context.Context, msg chat.Message) {
	go func() {
		traceID := trace.GenerateID()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in message handler",
					"trace", traceID, "channel", msg.Channel, "sender", msg.Sender,
					"panic", r, "stack", string(debug.Stack()))
			}
		}()

		ctx := trace.WithTraceID(context.Background(), traceID)

		// The gate runs again inside the manager; it is pure and cheap,
		// and checking it here keeps ignored messages completely silent —
		// no typing indicator, no follow-up churn.
		if a.gate.ShouldHandle(msg) {
			// A new qualifying message moves the conversation on; any
			// still-pending delayed follow-up in the channel is stale.
			a.followUps.Cancel(msg.Channel)

			a.client.SetTyping(ctx, msg.Channel, true, typingTimeout)
			defer a.client.SetTyping(ctx, msg.Channel, false, 0)
		}

		reply := a.manager.Respond(ctx, msg)
		if reply == nil {
			return
		}

		if err := a.client.SendReply(ctx, msg.Channel, *reply); err != nil {
			slog.Error("send reply", "trace", traceID, "channel", msg.Channel, "err", err)
		}
	}()
}

// Package conversation orchestrates the reply pipeline: dispatch gate,
// trigger rules, context read, completion call, context write. It owns the
// mutual exclusivity guarantee — a message is answered by exactly one of
// {nothing, a trigger rule, the model}, never more.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evebot/eve/common/trace"
	"github.com/evebot/eve/internal/eve/chat"
	"github.com/evebot/eve/internal/eve/completion"
	"github.com/evebot/eve/internal/eve/contextstore"
	"github.com/evebot/eve/internal/eve/trigger"
)

// Apology is the generic user-visible reply when the completion call fails.
// Matches the tone users expect from the bot: apologetic, never technical.
const Apology = "Sorry, something went wrong."

// RateLimitedMessage is sent to senders who exhaust their per-window
// completion budget.
const RateLimitedMessage = "⏳ I'm getting a lot of messages from you right now. Give me a moment and try again."

// Gate is the dispatch-policy slice the manager needs.
type Gate interface {
	ShouldHandle(msg chat.Message) bool
}

// Manager implements the per-message reply pipeline. It holds no
// conversation state of its own; all context lives in the Store, and each
// access is a fresh round trip.
//
// Concurrency: Respond is safe to call from many goroutines. Two
// concurrent messages from the same sender may interleave their context
// read and write; the store serializes the individual operations, so the
// result is last-write-wins on the context — one turn may be shadowed, but
// the sequence is never corrupted. This weak consistency is accepted
// instead of per-sender locking.
type Manager struct {
	policy    Gate
	triggers  *trigger.Set
	store     contextstore.Store
	completer completion.Completer
	limiter   *RateLimiter // nil disables rate limiting
	botName   string
	prefixRe  *regexp.Regexp
	logger    *slog.Logger
}

// New wires a Manager. The limiter may be nil; the logger defaults to
// slog.Default when nil.
func New(botName string, policy Gate, triggers *trigger.Set, store contextstore.Store,
	completer completion.Completer, limiter *RateLimiter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		policy:    policy,
		triggers:  triggers,
		store:     store,
		completer: completer,
		limiter:   limiter,
		botName:   botName,
		prefixRe:  regexp.MustCompile(`(?i)^\s*` + regexp.QuoteMeta(botName) + `\s*:\s*`),
		logger:    logger,
	}
}

// Respond handles one inbound message and returns the reply to send, or
// nil when the message should be ignored. It never returns an error:
// failures inside the pipeline degrade per the error taxonomy (apology for
// model failures, empty context for store failures) and are logged.
func (m *Manager) Respond(ctx context.Context, msg chat.Message) *chat.Reply {
	// 1. Dispatch gate. Rejected messages cause no side effects at all.
	if !m.policy.ShouldHandle(msg) {
		return nil
	}

	logger := m.logger
	if tid := trace.FromContext(ctx); tid != "" {
		logger = logger.With("trace", tid)
	}

	// 2. Trigger rules intercept before any store or model access.
	if rule := m.triggers.Evaluate(msg); rule != nil {
		return m.triggers.Execute(ctx, rule, msg)
	}

	if m.limiter != nil && !m.limiter.Allow(msg.Sender) {
		logger.Info("conversation: sender rate-limited", "sender", msg.Sender)
		return &chat.Reply{Text: RateLimitedMessage}
	}

	// 3. Read prior context. Store trouble means no context, not no answer.
	turns, err := m.store.Get(ctx, msg.Sender)
	if err != nil {
		logger.Warn("conversation: context store unavailable, proceeding without context",
			"sender", msg.Sender, "err", err)
		turns = nil
	}

	// 4–5. Assemble the prompt and call the model.
	req := completion.Request{
		Prompt:    m.buildPrompt(turns, msg.Text),
		ParentRef: lastRef(turns),
	}
	result, err := m.completer.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, completion.ErrRateLimit) {
			logger.Warn("conversation: completion provider rate-limited", "sender", msg.Sender)
		} else {
			logger.Error("conversation: completion call failed",
				"sender", msg.Sender, "channel", msg.Channel, "err", err)
		}
		// No turn is persisted for a failed exchange.
		return &chat.Reply{Text: Apology}
	}

	replyText := m.stripBotPrefix(result.Text)

	// 6. Persist the new turn. A write failure loses memory, not the reply.
	turn := contextstore.Turn{
		ID:        uuid.New().String(),
		Utterance: msg.Text,
		Reply:     replyText,
		Ref:       result.Ref,
		CreatedAt: time.Now(),
	}
	if err := m.store.Append(ctx, msg.Sender, turn); err != nil {
		logger.Warn("conversation: persist turn", "sender", msg.Sender, "err", err)
	}

	// 7. Done.
	return &chat.Reply{Text: replyText}
}

// buildPrompt renders prior turns in chronological order followed by the
// new utterance. Each prior turn becomes one "<utterance> <bot>: <reply>"
// line; ref-only turns from the chained store strategy carry no text and
// contribute nothing.
func (m *Manager) buildPrompt(turns []contextstore.Turn, text string) string {
	var b strings.Builder
	for _, t := range turns {
		if t.Utterance == "" && t.Reply == "" {
			continue
		}
		fmt.Fprintf(&b, "%s %s: %s\n", t.Utterance, m.botName, t.Reply)
	}
	b.WriteString(text)
	return b.String()
}

// lastRef returns the most recent exchange ref in the context, or "".
func lastRef(turns []contextstore.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Ref != "" {
			return turns[i].Ref
		}
	}
	return ""
}

// stripBotPrefix removes a leaked "<bot-name>:" prefix the model sometimes
// echoes back after seeing the prompt's turn format.
func (m *Manager) stripBotPrefix(text string) string {
	return m.prefixRe.ReplaceAllString(text, "")
}

// Package trigger implements the canned-rule layer that intercepts messages
// before the language model is consulted. Rules live in a declarative
// ordered table: the first rule whose pattern matches wins, and once a rule
// fires no other rule and no model forwarding happens for that message.
package trigger

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/evebot/eve/internal/eve/chat"
)

// Action produces the reply for a fired rule. Returning a nil reply with a
// nil error is valid for pure side-effect rules.
type Action func(ctx context.Context, msg chat.Message) (*chat.Reply, error)

// Rule is one row of the trigger table.
type Rule struct {
	// Name identifies the rule in logs and tests.
	Name string
	// Pattern is the case-insensitive predicate over the message text.
	Pattern *regexp.Regexp
	// Respond builds the reply. It may call external APIs.
	Respond Action
	// SideEffect marks rules whose action may legitimately return no reply.
	SideEffect bool
	// Apology is shown when Respond fails. Failures never propagate.
	Apology string
}

// Set is an ordered, immutable rule table.
type Set struct {
	rules  []Rule
	logger *slog.Logger
}

// NewSet builds a Set from the given rules, evaluated in slice order.
// If logger is nil, the default slog logger is used.
func NewSet(rules []Rule, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{rules: rules, logger: logger}
}

// Evaluate returns the first rule whose pattern matches the message text,
// or nil when no rule matches. Empty text matches nothing.
func (s *Set) Evaluate(msg chat.Message) *Rule {
	if msg.Text == "" {
		return nil
	}
	for i := range s.rules {
		if s.rules[i].Pattern.MatchString(msg.Text) {
			return &s.rules[i]
		}
	}
	return nil
}

// Execute runs the rule's action. A failing action is logged and converted
// into the rule's inline apology; it never crashes the caller and never
// falls through to another rule or the model.
func (s *Set) Execute(ctx context.Context, rule *Rule, msg chat.Message) *chat.Reply {
	reply, err := rule.Respond(ctx, msg)
	if err != nil {
		s.logger.Warn("trigger: rule action failed",
			"rule", rule.Name, "channel", msg.Channel, "err", err)
		return &chat.Reply{Text: rule.Apology}
	}
	if reply == nil && !rule.SideEffect {
		s.logger.Warn("trigger: rule returned no reply", "rule", rule.Name)
	}
	return reply
}

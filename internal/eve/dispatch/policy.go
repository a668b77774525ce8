// Package dispatch decides whether an inbound message is addressed to the
// bot at all. It is the first gate in the pipeline: messages it rejects
// cause no store access, no API calls, and no reply.
package dispatch

import (
	"regexp"
	"strings"

	"github.com/evebot/eve/internal/eve/chat"
)

// Policy holds the qualification predicates for a single bot identity.
// All predicates are pure text/metadata inspection; Policy performs no I/O
// and is safe for concurrent use.
type Policy struct {
	botUserID string
	nameRe    *regexp.Regexp
}

// New builds a Policy for the given bot identity and display name.
// The name match is case-insensitive and anchored on word boundaries, so
// a bot named "Eve" matches "hey Eve!" but not "everyone" or "believe".
func New(botUserID, botName string) *Policy {
	return &Policy{
		botUserID: botUserID,
		nameRe:    regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(botName) + `\b`),
	}
}

// ShouldHandle reports whether the message qualifies for handling.
//
// A message qualifies when any of the following holds:
//   - it mentions the bot via the platform's direct-mention syntax
//   - its text contains the bot's name as a whole word
//   - it was posted in a one-to-one direct message channel
//   - it was posted in a multi-party direct channel by a non-bot sender
//
// A message from the bot's own account never qualifies, regardless of the
// rules above. Empty text is handled without error and qualifies only via
// the channel-type predicates.
func (p *Policy) ShouldHandle(msg chat.Message) bool {
	if p.isSelf(msg) {
		return false
	}
	return p.isMentioned(msg) ||
		p.isAddressedByName(msg) ||
		p.isDirectMessage(msg) ||
		p.isGroupDirectFromHuman(msg)
}

// isSelf guards against self-triggered loops.
func (p *Policy) isSelf(msg chat.Message) bool {
	return msg.Sender == p.botUserID
}

func (p *Policy) isMentioned(msg chat.Message) bool {
	for _, m := range msg.Mentions {
		if m == p.botUserID {
			return true
		}
	}
	// Some platforms leave the raw mention syntax in the body instead of
	// (or in addition to) structured mention metadata.
	return msg.Text != "" && strings.Contains(msg.Text, p.botUserID)
}

func (p *Policy) isAddressedByName(msg chat.Message) bool {
	if msg.Text == "" {
		return false
	}
	return p.nameRe.MatchString(msg.Text)
}

func (p *Policy) isDirectMessage(msg chat.Message) bool {
	return msg.ChannelType == chat.ChannelDirect
}

// isGroupDirectFromHuman accepts multi-party DMs, excluding messages that
// originate from other bot accounts so two bots in one group DM cannot
// answer each other forever.
func (p *Policy) isGroupDirectFromHuman(msg chat.Message) bool {
	return msg.ChannelType == chat.ChannelGroupDirect && !msg.SenderIsBot
}

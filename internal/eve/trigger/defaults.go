package trigger

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/evebot/eve/internal/eve/chat"
)

// JokeService is the slice of the joke collaborator the rules need.
type JokeService interface {
	Random(ctx context.Context) (string, error)
}

// ImageService is the slice of the image-generation collaborator the rules
// need.
type ImageService interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options tunes the built-in rule table.
type Options struct {
	// BotName is the bot's display name, used in reply templates.
	BotName string
	// EmojiMin and EmojiMax bound the danceparty burst size (inclusive).
	// Defaults: 3 and 6.
	EmojiMin int
	EmojiMax int
	// JokeFollowUpDelay is the pause before the drum-roll follow-up.
	// Default: 3 s.
	JokeFollowUpDelay time.Duration
}

// Deps carries the collaborators the built-in rules call. Any nil
// collaborator disables the rules that need it.
type Deps struct {
	Jokes     JokeService
	Images    ImageService
	FollowUps *Scheduler
}

var partyEmoji = []string{
	"🕺", "💃", "🎉", "🎊", "🪩", "🎶", "🎵", "🤖", "✨", "🥳",
}

// Defaults returns the built-in rule table in evaluation order. Order
// matters: help outranks greeting so "help" inside a greeting still gets
// the usage reply, and every rule outranks model forwarding by design of
// the evaluation loop.
func Defaults(opts Options, deps Deps) []Rule {
	if opts.EmojiMin <= 0 {
		opts.EmojiMin = 3
	}
	if opts.EmojiMax < opts.EmojiMin {
		opts.EmojiMax = opts.EmojiMin + 3
	}
	if opts.JokeFollowUpDelay <= 0 {
		opts.JokeFollowUpDelay = 3 * time.Second
	}

	rules := []Rule{
		{
			Name:    "help",
			Pattern: regexp.MustCompile(`(?i)\bhelp\b`),
			Respond: func(_ context.Context, _ chat.Message) (*chat.Reply, error) {
				return &chat.Reply{Text: fmt.Sprintf(
					"You can message me in the channel with @%s or chat with me directly in a DM.",
					opts.BotName)}, nil
			},
		},
		{
			Name:    "greeting",
			Pattern: regexp.MustCompile(`(?i)^\s*(hi|hello|hey|greetings|howdy)\b`),
			Respond: func(_ context.Context, msg chat.Message) (*chat.Reply, error) {
				name := msg.SenderDisplayName
				if name == "" {
					name = msg.Sender
				}
				return &chat.Reply{Text: fmt.Sprintf(
					"Hello %s! I'm %s. Ask me anything, or say \"help\" to see how to reach me.",
					name, opts.BotName)}, nil
			},
		},
		{
			Name:    "danceparty",
			Pattern: regexp.MustCompile(`(?i)\bdanceparty\b`),
			Respond: func(_ context.Context, _ chat.Message) (*chat.Reply, error) {
				return &chat.Reply{Text: emojiBurst(opts.EmojiMin, opts.EmojiMax)}, nil
			},
		},
	}

	if deps.Jokes != nil {
		rules = append(rules, Rule{
			Name:    "joke",
			Pattern: regexp.MustCompile(`(?i)\bjoke\b`),
			Apology: "Sorry, my joke book seems to be missing right now.",
			Respond: func(ctx context.Context, msg chat.Message) (*chat.Reply, error) {
				joke, err := deps.Jokes.Random(ctx)
				if err != nil {
					return nil, err
				}
				if deps.FollowUps != nil {
					deps.FollowUps.Schedule(msg.Channel, opts.JokeFollowUpDelay,
						chat.Reply{Text: "🥁 ba dum tss"})
				}
				return &chat.Reply{Text: joke}, nil
			},
		})
	}

	if deps.Images != nil {
		rules = append(rules, Rule{
			Name:    "draw",
			Pattern: drawPattern,
			Apology: "Sorry, I couldn't get my paintbrush to work.",
			Respond: func(ctx context.Context, msg chat.Message) (*chat.Reply, error) {
				prompt := drawPrompt(msg.Text)
				if prompt == "" {
					return &chat.Reply{Text: "What should I draw? Try \"draw me a robot on the moon\"."}, nil
				}
				url, err := deps.Images.Generate(ctx, prompt)
				if err != nil {
					return nil, err
				}
				return &chat.Reply{
					Text:    fmt.Sprintf("Here's my take on %q:", prompt),
					Buttons: []chat.LinkButton{{Label: "View image", URL: url}},
				}, nil
			},
		})
	}

	return rules
}

var drawPattern = regexp.MustCompile(`(?i)\bdraw\s+(?:me\s+)?(.*)$`)

// drawPrompt extracts the subject from a draw request, stripping the bot
// addressing that got the message past the dispatch gate.
func drawPrompt(text string) string {
	m := drawPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// emojiBurst picks a random number of distinct party emoji, count drawn
// from [min, max].
func emojiBurst(min, max int) string {
	n := min + rand.IntN(max-min+1)
	if n > len(partyEmoji) {
		n = len(partyEmoji)
	}

	picks := make([]string, len(partyEmoji))
	copy(picks, partyEmoji)
	rand.Shuffle(len(picks), func(i, j int) {
		picks[i], picks[j] = picks[j], picks[i]
	})
	return strings.Join(picks[:n], " ")
}

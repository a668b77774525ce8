// Package matrix adapts the Matrix homeserver transport to the core's
// transport-neutral message shape. Everything platform-specific — event
// decoding, channel-type classification, mention metadata, rich-content
// rendering — stays behind this boundary.
package matrix

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/evebot/eve/internal/eve/chat"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// Client wraps the mautrix client.
type Client struct {
	client *mautrix.Client
	config Config
	stopCh chan struct{}

	handler MessageHandler

	mu           sync.Mutex
	memberCounts map[id.RoomID]int
	roomNamed    map[id.RoomID]bool
	displayNames map[id.UserID]string
}

// MessageHandler processes inbound messages translated to the core shape.
type MessageHandler func(ctx context.Context, msg chat.Message)

// New creates a Matrix client.
func New(config Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	return &Client{
		client:       client,
		config:       config,
		stopCh:       make(chan struct{}),
		memberCounts: make(map[id.RoomID]int),
		roomNamed:    make(map[id.RoomID]bool),
		displayNames: make(map[id.UserID]string),
	}, nil
}

// Start begins syncing with the homeserver and delivers inbound messages
// to handler. The sync loop reconnects with exponential back-off; without
// retries a transient homeserver error would silently kill the sync
// goroutine and leave the bot deaf to all new messages.
func (c *Client) Start(handler MessageHandler) error {
	c.handler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleEvent)
	syncer.OnEventType(event.StateMember, c.handleMember)

	go func() {
		backoff := backoffMin
		for {
			started := time.Now()
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				// A sync that ran for a while before failing means the
				// connection had recovered; start the ladder over.
				if time.Since(started) > backoffMax {
					backoff = backoffMin
				}
				slog.Error("matrix: sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff = nextBackoff(backoff)
				continue
			}
			// Sync returned nil — only happens on a clean StopSync() call.
			return
		}
	}()

	return nil
}

const (
	backoffMin = 2 * time.Second
	backoffMax = 5 * time.Minute
)

// nextBackoff doubles the reconnect delay up to backoffMax.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffMax {
		return backoffMax
	}
	return d
}

// Stop stops the Matrix client.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// UserID returns the bot's own Matrix user ID.
func (c *Client) UserID() string {
	return c.config.UserID
}

// SendReply delivers a reply to a room. Link buttons are rendered as HTML
// anchors with a plain-text fallback, the closest Matrix equivalent of a
// "button with URL" block.
func (c *Client) SendReply(ctx context.Context, roomID string, reply chat.Reply) error {
	if len(reply.Buttons) == 0 {
		if _, err := c.client.SendText(ctx, id.RoomID(roomID), reply.Text); err != nil {
			return fmt.Errorf("matrix: send message: %w", err)
		}
		return nil
	}

	plain := reply.Text
	var htmlBody strings.Builder
	htmlBody.WriteString(html.EscapeString(reply.Text))
	for _, b := range reply.Buttons {
		plain += fmt.Sprintf("\n%s: %s", b.Label, b.URL)
		fmt.Fprintf(&htmlBody, `<br/><a href="%s">%s</a>`,
			html.EscapeString(b.URL), html.EscapeString(b.Label))
	}

	content := event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          plain,
		Format:        event.FormatHTML,
		FormattedBody: htmlBody.String(),
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send formatted message: %w", err)
	}
	return nil
}

// SetTyping toggles the typing indicator, used while a completion call is
// in flight. Errors are not fatal and are left to the caller to ignore.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("matrix: set typing: %w", err)
	}
	return nil
}

// handleEvent translates a Matrix message event into the core shape and
// hands it to the registered handler.
func (c *Client) handleEvent(ctx context.Context, evt *event.Event) {
	msgContent := evt.Content.AsMessage()
	if msgContent == nil {
		return
	}
	// m.notice is the Matrix convention for bot and bridge traffic.
	senderIsBot := msgContent.MsgType == event.MsgNotice
	if msgContent.MsgType != event.MsgText && !senderIsBot {
		return
	}

	var mentions []string
	if msgContent.Mentions != nil {
		for _, uid := range msgContent.Mentions.UserIDs {
			mentions = append(mentions, uid.String())
		}
	}

	var files []chat.File
	if msgContent.URL != "" {
		files = append(files, chat.File{
			Name: msgContent.Body,
			URL:  string(msgContent.URL),
			MIME: msgContent.GetInfo().MimeType,
		})
	}

	msg := chat.Message{
		ID:                evt.ID.String(),
		Text:              msgContent.Body,
		Sender:            evt.Sender.String(),
		SenderDisplayName: c.displayName(ctx, evt.Sender),
		SenderIsBot:       senderIsBot,
		Channel:           evt.RoomID.String(),
		ChannelType:       c.channelType(ctx, evt.RoomID),
		Mentions:          mentions,
		Files:             files,
	}

	if c.handler != nil {
		c.handler(ctx, msg)
	}
}

// handleMember invalidates the cached member count when room membership
// changes, so channel-type classification stays current.
func (c *Client) handleMember(_ context.Context, evt *event.Event) {
	c.mu.Lock()
	delete(c.memberCounts, evt.RoomID)
	c.mu.Unlock()
}

// channelType classifies a room. Matrix has no first-class channel kinds,
// so the adapter uses the common client conventions: a two-member room is
// a DM, a larger unnamed room is a multi-party DM (clients name DMs
// locally, not in room state), and anything with a name is public.
func (c *Client) channelType(ctx context.Context, roomID id.RoomID) chat.ChannelType {
	members, named := c.roomShape(ctx, roomID)
	switch {
	case members <= 2:
		return chat.ChannelDirect
	case !named:
		return chat.ChannelGroupDirect
	default:
		return chat.ChannelPublic
	}
}

// roomShape returns the member count and whether the room has a name,
// caching both until membership changes.
func (c *Client) roomShape(ctx context.Context, roomID id.RoomID) (int, bool) {
	c.mu.Lock()
	members, haveMembers := c.memberCounts[roomID]
	named, haveNamed := c.roomNamed[roomID]
	c.mu.Unlock()

	if !haveMembers {
		resp, err := c.client.JoinedMembers(ctx, roomID)
		if err != nil {
			slog.Warn("matrix: joined members lookup failed, assuming public room",
				"room", roomID, "err", err)
			return 3, true
		}
		members = len(resp.Joined)
		c.mu.Lock()
		c.memberCounts[roomID] = members
		c.mu.Unlock()
	}

	if !haveNamed {
		var nameContent event.RoomNameEventContent
		err := c.client.StateEvent(ctx, roomID, event.StateRoomName, "", &nameContent)
		named = err == nil && nameContent.Name != ""
		c.mu.Lock()
		c.roomNamed[roomID] = named
		c.mu.Unlock()
	}

	return members, named
}

// displayName resolves and caches a user's display name, falling back to
// the user ID when the profile lookup fails.
func (c *Client) displayName(ctx context.Context, userID id.UserID) string {
	c.mu.Lock()
	if name, ok := c.displayNames[userID]; ok {
		c.mu.Unlock()
		return name
	}
	c.mu.Unlock()

	profile, err := c.client.GetProfile(ctx, userID)
	if err != nil || profile.DisplayName == "" {
		return userID.String()
	}

	c.mu.Lock()
	c.displayNames[userID] = profile.DisplayName
	c.mu.Unlock()
	return profile.DisplayName
}

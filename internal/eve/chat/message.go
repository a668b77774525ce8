// Package chat defines the transport-neutral message and reply shapes shared
// by the dispatch, trigger, and conversation layers. The messaging platform
// adapter translates its native events into these values; nothing below the
// adapter knows which platform delivered a message.
package chat

// ChannelType classifies where a message was posted.
type ChannelType string

const (
	// ChannelPublic is a regular shared channel or room.
	ChannelPublic ChannelType = "public"
	// ChannelDirect is a one-to-one direct message channel.
	ChannelDirect ChannelType = "direct"
	// ChannelGroupDirect is a multi-party direct message channel.
	ChannelGroupDirect ChannelType = "group_direct"
)

// Message is a single inbound message as seen by the core.
type Message struct {
	// ID is the platform event identifier, used for tracing only.
	ID string
	// Text is the plain message body. May be empty (e.g. file-only posts).
	Text string
	// Sender is the platform identity of the author.
	Sender string
	// SenderDisplayName is the human-readable name of the author, when the
	// adapter could resolve one. Falls back to Sender otherwise.
	SenderDisplayName string
	// SenderIsBot reports whether the author is a bot or bridge account.
	SenderIsBot bool
	// Channel is the platform identity of the channel the message was
	// posted in.
	Channel string
	// ChannelType classifies the channel.
	ChannelType ChannelType
	// Mentions lists the user identities explicitly mentioned in the
	// message via the platform's direct-mention syntax.
	Mentions []string
	// Files lists any attachments. The core only ever inspects these in
	// trigger actions (e.g. captioning); they are opaque otherwise.
	Files []File
}

// File is an attachment reference carried on a Message.
type File struct {
	Name string
	URL  string
	MIME string
}

// Reply is the outbound payload a handler produces. Text is always set for
// non-empty replies; Buttons carries optional interactive link blocks, which
// the adapter renders in whatever rich format the platform supports.
type Reply struct {
	Text    string
	Buttons []LinkButton
}

// LinkButton is a "button with URL" rich-content block.
type LinkButton struct {
	Label string
	URL   string
}

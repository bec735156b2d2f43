package bus

import "time"

// EventKind classifies what a channel observed.
type EventKind string

const (
	EventMessage    EventKind = "message"
	EventCommand    EventKind = "command"
	EventCallback   EventKind = "callback"
	EventMembership EventKind = "membership"
)

type InboundMessage struct {
	Channel   string
	Kind      EventKind
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	FullName  string
	Text      string
	Timestamp time.Time

	// Command events: Command is the name without the leading slash.
	Command string
	Args    []string

	// Callback events (inline button presses).
	CallbackID   string
	CallbackData string

	// Membership events describe the bot's own status in the chat.
	WasMember bool
	IsMember  bool
}

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

type OutboundMessage struct {
	Channel string
	ChatID  int64
	Text    string
	ReplyTo int
	Buttons []Button

	// ParseMode is passed through to the transport ("Markdown", "HTML" or empty).
	ParseMode string

	// Photo, when set, is sent as an image with Text as caption.
	Photo     []byte
	PhotoName string

	// EditMessageID replaces the text of an existing message instead of sending.
	EditMessageID int

	// CallbackID acknowledges an inline button press.
	CallbackID string
}

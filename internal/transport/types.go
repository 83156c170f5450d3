package transport

import "context"

// Kind labels a unit of content once per message; it decides which send
// primitive the adapter uses per destination.
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindDocument  Kind = "document"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindVideoNote Kind = "video_note"
	KindSticker   Kind = "sticker"
	KindAnimation Kind = "animation"
	KindUnknown   Kind = "unknown"
)

// Supported reports whether the relay can copy this kind at all.
func (k Kind) Supported() bool {
	switch k {
	case KindText, KindPhoto, KindVideo, KindDocument, KindAudio,
		KindVoice, KindVideoNote, KindSticker, KindAnimation:
		return true
	}
	return false
}

// Message is one unit of deliverable content. Text messages carry Text only;
// media messages carry the platform file reference plus an optional caption.
type Message struct {
	Kind    Kind
	Text    string
	FileRef string
	Caption string
}

// SourcePost is an inbound post observed on the watched source channel.
type SourcePost struct {
	MessageID int
	ChatID    int64
	Message   Message
}

type UpdateKind string

const (
	UpdateSourcePost UpdateKind = "source_post"
)

type Update struct {
	Kind UpdateKind
	Post *SourcePost
}

// Adapter is the transport client contract. Destination is the platform's
// opaque channel address (e.g. "-100..."); it is validated upstream, never
// re-checked here.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// Send delivers one message to one destination. Errors are classified:
	// rate limits surface as RetryAfterError, dead destinations as Permanent.
	Send(ctx context.Context, destination string, msg Message) error

	// Notify sends an operator-facing message to a chat id.
	Notify(ctx context.Context, chatID int64, text string) error
}

// Package messaging defines the provider-agnostic outbound sink the core
// calls to deliver user-visible notifications and admin broadcasts.
package messaging

import "context"

// Provider is a single outbound messaging sink (a chat platform's bot API).
type Provider interface {
	// Name identifies this provider ("telegram").
	Name() string

	// Send delivers msg to userID, returning a provider-assigned message id
	// on success. Delivery failure is a typed error; the core treats it as
	// non-fatal to any state transition.
	Send(ctx context.Context, userID int64, msg Message) (string, error)

	// SendAdmins broadcasts msg to every configured operator chat.
	SendAdmins(ctx context.Context, msg Message) error
}

// MediaType enumerates the supported message variants.
type MediaType string

const (
	MediaText     MediaType = "text"
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
)

// Button is one inline keyboard button. Exactly one of URL or CallbackData
// is set after validation; Render drops any button that fails this.
type Button struct {
	Text         string
	URL          string
	CallbackData string
}

// Message is a single outbound notification, built by rendering a rule's
// message_template or constructed directly by C4/C5 lifecycle hooks.
type Message struct {
	MediaType  MediaType
	MediaID    string
	Text       string
	ParseMode  string // "HTML" or "Markdown"
	Buttons    [][]Button
}

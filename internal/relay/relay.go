package relay

import (
	"context"
	"errors"
	"strings"
)

// ErrDeliveryFailed marks a delivery that was dropped after its last attempt.
var ErrDeliveryFailed = errors.New("delivery failed")

type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
	KindVoice    Kind = "voice"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
)

// ParseKind maps a file type name to a Kind. Unknown names become documents.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPhoto, KindDocument, KindVoice, KindVideo, KindAudio:
		return k
	}
	return KindDocument
}

// File references a transport-level attachment.
type File struct {
	Ref         string
	Kind        Kind
	Name        string
	ContentType string
}

// Button is either a callback button (Token) or a link button (URL).
type Button struct {
	Label string
	Token string
	URL   string
}

type Menu struct {
	Text string
	Rows [][]Button
}

// Receipt is closed once the delivery task has finished, delivered or not.
type Receipt <-chan struct{}

// Wait blocks until the receipt closes or ctx is done.
func (r Receipt) Wait(ctx context.Context) error {
	select {
	case <-r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Relay sends messages to users. Sends never block the caller and never
// report failures; failed deliveries are logged and dropped.
type Relay interface {
	SendText(userID, text string) Receipt
	SendFile(userID string, file File, caption string) Receipt
	SendMenu(userID string, menu Menu) Receipt
}

// Transport performs a single delivery attempt on the concrete platform.
type Transport interface {
	DeliverText(ctx context.Context, userID, text string) error
	DeliverFile(ctx context.Context, userID string, file File, caption string) error
	DeliverMenu(ctx context.Context, userID string, menu Menu) error
}

// Event is one inbound user action.
type Event struct {
	UserID      string
	Text        string
	Callback    string
	CallbackRef string
	File        *File
	Caption     string
}

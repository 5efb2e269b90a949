package domain

import "time"

// EventKind is the closed set of webhook event variants the relay acts on.
type EventKind string

const (
	EventText  EventKind = "text"
	EventImage EventKind = "image"
	// EventOther covers follow/join/unsend and any future platform event
	// type. These carry no usable reply semantics and are never replied to.
	EventOther EventKind = "other"
)

// Event is a single decoded entry from a webhook envelope. ReplyToken is
// opaque, single-use, and expires a short time after delivery.
type Event struct {
	Kind       EventKind
	ReplyToken string
	SourceID   string
	Text       string // text events only
	ContentID  string // image events only
	Timestamp  time.Time
}

// Envelope is the batch of events delivered in one webhook call. Order is
// platform-supplied and carries no processing meaning.
type Envelope struct {
	Destination string
	Events      []Event
}

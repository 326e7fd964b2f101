// Package upstream defines the contract the gateway consumes from the chat
// network client, and the whatsmeow-backed production implementation. The
// session layer only ever sees these types; whatsmeow is an implementation
// detail of the adapter.
package upstream

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by operations that need a live socket.
var ErrNotConnected = errors.New("upstream: not connected")

// Event is the sum type delivered on a client's event channel. Consumers
// type-switch over the concrete variants below.
type Event interface{ isEvent() }

// QREvent carries a fresh pairing code.
type QREvent struct{ Code string }

// ConnectedEvent signals connection=open.
type ConnectedEvent struct{}

// DisconnectedEvent signals connection=close. LoggedOut distinguishes a
// server-side logout (credentials invalid) from a transient drop.
type DisconnectedEvent struct {
	LoggedOut bool
	Reason    string
}

// MessagesEvent carries live message upserts. Kind is the upstream upsert
// type; only "notify" batches are real-time messages.
type MessagesEvent struct {
	Kind     string
	Messages []RawMessage
}

// HistoryEvent carries a history-sync payload: chats, contacts and their
// messages.
type HistoryEvent struct {
	Chats    []RawChat
	Contacts []RawContact
	Messages []RawMessage
}

// ChatsEvent carries a chats.set / chats.upsert batch.
type ChatsEvent struct{ Chats []RawChat }

// ContactsEvent carries a contacts.set / contacts.upsert batch.
type ContactsEvent struct{ Contacts []RawContact }

func (QREvent) isEvent()           {}
func (ConnectedEvent) isEvent()    {}
func (DisconnectedEvent) isEvent() {}
func (MessagesEvent) isEvent()     {}
func (HistoryEvent) isEvent()      {}
func (ChatsEvent) isEvent()        {}
func (ContactsEvent) isEvent()     {}

// RawMessage is a flattened upstream message. Kind keeps the upstream
// discriminant verbatim; the session normalizer maps it to the internal
// content model and is the only code that interprets it.
type RawMessage struct {
	ID        string
	ChatJID   string
	SenderJID string
	FromMe    bool
	Timestamp time.Time
	PushName  string
	Kind      string

	// text
	Text     string
	QuotedID string

	// media
	Caption  string
	Mimetype string
	FileName string
	Seconds  uint32

	// location
	Latitude     float64
	Longitude    float64
	LocationName string

	// contact
	ContactName string
	VCard       string
}

// RawChat is a chat snapshot from a chats or history event.
type RawChat struct {
	JID             string
	Name            string
	UnreadCount     int
	LastMessageTime time.Time
}

// RawContact is a contact snapshot.
type RawContact struct {
	JID  string
	Name string
}

// SendResult is the upstream acknowledgment of an outbound message.
type SendResult struct {
	ID        string
	Timestamp time.Time
}

// CheckResult answers "is this phone number on the network".
type CheckResult struct {
	Exists bool
	JID    string
}

// BusinessProfile is the upstream business profile, best-effort.
type BusinessProfile struct {
	Name    string
	Address string
	Email   string
	Website string
}

// HistoryAnchor identifies the oldest known message of a chat; upstream
// returns messages older than it.
type HistoryAnchor struct {
	ID        string
	ChatJID   string
	FromMe    bool
	Timestamp int64
}

// Client is one tenant's connection to the upstream network.
type Client interface {
	// Connect opens the socket. For an unpaired device the client emits
	// QREvents until pairing completes or the code expires.
	Connect(ctx context.Context) error
	// Disconnect tears the socket down and closes the event channel.
	Disconnect()
	// Logout invalidates the server-side session.
	Logout(ctx context.Context) error

	// HasCredentials reports whether the device is paired.
	HasCredentials() bool
	// SelfJID returns the account's own JID, or "" before pairing.
	SelfJID() string

	// Events returns the event stream. Closed on Disconnect.
	Events() <-chan Event

	SendText(ctx context.Context, jid, text string) (SendResult, error)
	CheckNumber(ctx context.Context, digits string) (CheckResult, error)
	GetBusinessProfile(ctx context.Context) (*BusinessProfile, error)
	GetStatusMessage(ctx context.Context) (string, error)
	// FetchMessageHistory asks upstream for count messages older than the
	// anchor; results arrive asynchronously as HistoryEvents.
	FetchMessageHistory(ctx context.Context, count int, anchor HistoryAnchor) error
}

// Dialer creates clients bound to a credential directory. Credentials on
// disk are what lets sessions be restored across process restarts.
type Dialer interface {
	Dial(ctx context.Context, sessionPath string) (Client, error)
	HasStoredCredentials(sessionPath string) bool
}

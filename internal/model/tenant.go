package model

import "time"

// Chat is a conversation row. The last-message columns are nullable: a chat
// learned from a contact sync has no messages yet.
type Chat struct {
	JID                  string  `json:"jid"`
	Name                 string  `json:"name,omitempty"`
	IsGroup              bool    `json:"isGroup"`
	UnreadCount          int     `json:"unreadCount"`
	LastMessageTimestamp *int64  `json:"lastMessageTimestamp,omitempty"`
	LastMessageText      *string `json:"lastMessageText,omitempty"`
}

// ChatUpsert is a partial chat write with merge semantics: nil fields leave
// the stored value untouched.
type ChatUpsert struct {
	JID                  string
	Name                 *string
	IsGroup              *bool
	UnreadCount          *int
	LastMessageTimestamp *int64
	LastMessageText      *string
}

// Message is the persisted message row. ID equals MessageInfo.ID and is the
// idempotency anchor: duplicate inserts are no-ops.
type Message struct {
	ID        string  `json:"id"`
	JID       string  `json:"jid"`
	FromMe    bool    `json:"fromMe"`
	Timestamp int64   `json:"timestamp"`
	Type      string  `json:"type"`
	PushName  string  `json:"pushName,omitempty"`
	Content   Content `json:"content"`
}

// MessageAnchor identifies the oldest stored message of a chat, used to
// request older history from upstream.
type MessageAnchor struct {
	ID        string `json:"id"`
	JID       string `json:"jid"`
	FromMe    bool   `json:"fromMe"`
	Timestamp int64  `json:"timestamp"`
}

// Webhook is a tenant-configured delivery destination.
type Webhook struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Secret   string `json:"-"`
	IsActive bool   `json:"isActive"`
}

// BusinessInfo is the tenant's business profile snapshot attached to
// message.received webhook payloads.
type BusinessInfo struct {
	Name            string    `json:"name,omitempty"`
	About           string    `json:"about,omitempty"`
	WorkingHours    string    `json:"workingHours,omitempty"`
	LocationURL     string    `json:"locationUrl,omitempty"`
	ShippingDetails string    `json:"shippingDetails,omitempty"`
	InstagramURL    string    `json:"instagramUrl,omitempty"`
	WebsiteURL      string    `json:"websiteUrl,omitempty"`
	MobileNumbers   []string  `json:"mobileNumbers,omitempty"`
	LastUpdated     time.Time `json:"lastUpdated,omitempty"`
}

package model

// Normalized content families. MessageInfo.Type keeps the upstream
// discriminant verbatim (e.g. "conversation", "imageMessage"); Content.Type
// carries one of these.
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentVideo    = "video"
	ContentAudio    = "audio"
	ContentDocument = "document"
	ContentSticker  = "sticker"
	ContentLocation = "location"
	ContentContact  = "contact"
)

// Upstream discriminants the pipeline treats specially.
const (
	TypeProtocolMessage = "protocolMessage"
)

// Content is the tagged variant carried by a message. Only the fields for
// the active variant are set; everything else stays at its zero value and is
// omitted from JSON.
type Content struct {
	Type string `json:"type"`

	// text
	Text        string `json:"text,omitempty"`
	ContextInfo string `json:"contextInfo,omitempty"`

	// media (image, video, audio, document, sticker)
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Seconds  uint32 `json:"seconds,omitempty"`

	// location
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Name      string  `json:"name,omitempty"`

	// contact
	DisplayName string `json:"displayName,omitempty"`
	VCard       string `json:"vcard,omitempty"`

	// Unknown upstream kinds pass through as {"type": <tag>, "content": "unhandled"}.
	Opaque string `json:"content,omitempty"`
}

// MessageInfo is the normalized in-memory message. It is the only shape the
// ingestion pipeline, store and webhook layers ever see; raw upstream
// payloads are translated into it by the session normalizer.
type MessageInfo struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	FromMe    bool    `json:"fromMe"`
	Timestamp int64   `json:"timestamp"` // seconds since epoch
	Type      string  `json:"type"`
	PushName  string  `json:"pushName,omitempty"`
	Content   Content `json:"content"`
	IsGroup   bool    `json:"isGroup"`
}

// Valid reports whether the message carries the fields ingestion requires.
func (m MessageInfo) Valid() bool {
	return m.ID != "" && m.From != ""
}

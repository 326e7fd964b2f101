package session

import (
	"testing"
	"time"

	"github.com/erauner12/wa-gateway/internal/model"
	"github.com/erauner12/wa-gateway/internal/upstream"
)

func TestNormalizeDropsNoise(t *testing.T) {
	cases := []upstream.RawMessage{
		{ID: "M1", ChatJID: "1555@s.whatsapp.net", Kind: model.TypeProtocolMessage},
		{ID: "", ChatJID: "1555@s.whatsapp.net", Kind: "conversation"},
		{ID: "M1", ChatJID: "", Kind: "conversation"},
	}
	for i, raw := range cases {
		if _, ok := Normalize(raw); ok {
			t.Errorf("case %d: expected drop, got accept", i)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	m, ok := Normalize(upstream.RawMessage{
		ID:        "M1",
		ChatJID:   "1555@s.whatsapp.net",
		FromMe:    false,
		Timestamp: time.Unix(1700000000, 0),
		PushName:  "Bob",
		Kind:      "extendedTextMessage",
		Text:      "quoted reply",
		QuotedID:  "M0",
	})
	if !ok {
		t.Fatal("dropped")
	}
	if m.Type != "extendedTextMessage" {
		t.Errorf("Type = %q, upstream discriminant must be preserved", m.Type)
	}
	if m.Content.Type != model.ContentText || m.Content.Text != "quoted reply" || m.Content.ContextInfo != "M0" {
		t.Errorf("content = %+v", m.Content)
	}
	if m.Timestamp != 1700000000 || m.PushName != "Bob" {
		t.Errorf("envelope = %+v", m)
	}
}

func TestNormalizeContentVariants(t *testing.T) {
	cases := []struct {
		raw  upstream.RawMessage
		want model.Content
	}{
		{
			raw:  upstream.RawMessage{Kind: "imageMessage", Caption: "pic", Mimetype: "image/jpeg"},
			want: model.Content{Type: model.ContentImage, Caption: "pic", Mimetype: "image/jpeg"},
		},
		{
			raw:  upstream.RawMessage{Kind: "videoMessage", Caption: "clip", Mimetype: "video/mp4", Seconds: 12},
			want: model.Content{Type: model.ContentVideo, Caption: "clip", Mimetype: "video/mp4", Seconds: 12},
		},
		{
			raw:  upstream.RawMessage{Kind: "audioMessage", Mimetype: "audio/ogg", Seconds: 7},
			want: model.Content{Type: model.ContentAudio, Mimetype: "audio/ogg", Seconds: 7},
		},
		{
			raw:  upstream.RawMessage{Kind: "documentMessage", Caption: "q3", Mimetype: "application/pdf", FileName: "report.pdf"},
			want: model.Content{Type: model.ContentDocument, Caption: "q3", Mimetype: "application/pdf", FileName: "report.pdf"},
		},
		{
			raw:  upstream.RawMessage{Kind: "stickerMessage", Mimetype: "image/webp"},
			want: model.Content{Type: model.ContentSticker, Mimetype: "image/webp"},
		},
		{
			raw:  upstream.RawMessage{Kind: "locationMessage", Latitude: 52.52, Longitude: 13.405, LocationName: "Berlin"},
			want: model.Content{Type: model.ContentLocation, Latitude: 52.52, Longitude: 13.405, Name: "Berlin"},
		},
		{
			raw:  upstream.RawMessage{Kind: "contactMessage", ContactName: "Carol", VCard: "BEGIN:VCARD"},
			want: model.Content{Type: model.ContentContact, DisplayName: "Carol", VCard: "BEGIN:VCARD"},
		},
		{
			raw:  upstream.RawMessage{Kind: "pollCreationMessage"},
			want: model.Content{Type: "pollCreationMessage", Opaque: "unhandled"},
		},
	}
	for _, c := range cases {
		c.raw.ID = "M1"
		c.raw.ChatJID = "1555@s.whatsapp.net"
		c.raw.Timestamp = time.Unix(1700000000, 0)
		m, ok := Normalize(c.raw)
		if !ok {
			t.Errorf("kind %s dropped", c.raw.Kind)
			continue
		}
		if m.Content != c.want {
			t.Errorf("kind %s: content = %+v, want %+v", c.raw.Kind, m.Content, c.want)
		}
	}
}

func TestNormalizeGroupFlag(t *testing.T) {
	m, ok := Normalize(upstream.RawMessage{
		ID:        "M1",
		ChatJID:   "120363@g.us",
		Timestamp: time.Unix(1700000000, 0),
		Kind:      "conversation",
		Text:      "hi all",
	})
	if !ok {
		t.Fatal("dropped")
	}
	if !m.IsGroup {
		t.Error("group chat not flagged")
	}
}

package session

import (
	"github.com/erauner12/wa-gateway/internal/model"
	"github.com/erauner12/wa-gateway/internal/upstream"
)

// Normalize translates a raw upstream message into the internal model. The
// second return is false for messages the pipeline drops entirely, which
// today means protocol messages (receipts, revokes, app-state noise) and
// envelopes with no usable identity.
func Normalize(raw upstream.RawMessage) (model.MessageInfo, bool) {
	if raw.Kind == model.TypeProtocolMessage {
		return model.MessageInfo{}, false
	}
	if raw.ID == "" || raw.ChatJID == "" {
		return model.MessageInfo{}, false
	}

	m := model.MessageInfo{
		ID:        raw.ID,
		From:      raw.ChatJID,
		FromMe:    raw.FromMe,
		Timestamp: raw.Timestamp.Unix(),
		Type:      raw.Kind,
		PushName:  raw.PushName,
		IsGroup:   model.IsGroupJID(raw.ChatJID),
		Content:   normalizeContent(raw),
	}
	return m, true
}

func normalizeContent(raw upstream.RawMessage) model.Content {
	switch raw.Kind {
	case "conversation", "extendedTextMessage":
		return model.Content{
			Type:        model.ContentText,
			Text:        raw.Text,
			ContextInfo: raw.QuotedID,
		}
	case "imageMessage":
		return model.Content{
			Type:     model.ContentImage,
			Caption:  raw.Caption,
			Mimetype: raw.Mimetype,
		}
	case "videoMessage":
		return model.Content{
			Type:     model.ContentVideo,
			Caption:  raw.Caption,
			Mimetype: raw.Mimetype,
			Seconds:  raw.Seconds,
		}
	case "audioMessage":
		return model.Content{
			Type:     model.ContentAudio,
			Mimetype: raw.Mimetype,
			Seconds:  raw.Seconds,
		}
	case "documentMessage":
		return model.Content{
			Type:     model.ContentDocument,
			Caption:  raw.Caption,
			Mimetype: raw.Mimetype,
			FileName: raw.FileName,
		}
	case "stickerMessage":
		return model.Content{
			Type:     model.ContentSticker,
			Mimetype: raw.Mimetype,
		}
	case "locationMessage":
		return model.Content{
			Type:      model.ContentLocation,
			Latitude:  raw.Latitude,
			Longitude: raw.Longitude,
			Name:      raw.LocationName,
		}
	case "contactMessage":
		return model.Content{
			Type:        model.ContentContact,
			DisplayName: raw.ContactName,
			VCard:       raw.VCard,
		}
	default:
		// Opaque passthrough: the tag is preserved so consumers can decide
		// what to do with kinds this gateway does not model.
		return model.Content{Type: raw.Kind, Opaque: "unhandled"}
	}
}

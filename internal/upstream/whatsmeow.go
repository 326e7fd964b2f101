package upstream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const credentialsFile = "session.db"

// WhatsmeowDialer opens whatsmeow clients backed by a per-tenant SQLite
// credential store under sessionPath.
type WhatsmeowDialer struct {
	log zerolog.Logger
}

func NewWhatsmeowDialer(logger zerolog.Logger) *WhatsmeowDialer {
	return &WhatsmeowDialer{log: logger.With().Str("component", "upstream").Logger()}
}

func (d *WhatsmeowDialer) HasStoredCredentials(sessionPath string) bool {
	_, err := os.Stat(filepath.Join(sessionPath, credentialsFile))
	return err == nil
}

func (d *WhatsmeowDialer) Dial(ctx context.Context, sessionPath string) (Client, error) {
	if err := os.MkdirAll(sessionPath, 0o755); err != nil {
		return nil, fmt.Errorf("upstream: create session dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(sessionPath, credentialsFile))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Stdout("Database", "ERROR", false))
	if err != nil {
		return nil, fmt.Errorf("upstream: open credential store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("upstream: get device: %w", err)
	}

	cli := whatsmeow.NewClient(device, waLog.Stdout("Client", "ERROR", false))
	wc := &whatsmeowClient{
		cli:    cli,
		events: make(chan Event, 64),
		log:    d.log,
	}
	cli.AddEventHandler(wc.handleEvent)
	return wc, nil
}

// whatsmeowClient adapts a *whatsmeow.Client to the Client contract. Library
// events are translated into the Event sum type and buffered on a channel;
// if the consumer falls behind the oldest buffered event is dropped rather
// than blocking the whatsmeow event goroutine.
type whatsmeowClient struct {
	cli *whatsmeow.Client
	log zerolog.Logger

	mu     sync.Mutex
	events chan Event
	closed bool
}

func (c *whatsmeowClient) Connect(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		// Unpaired device: the QR channel must be requested before the
		// socket is opened.
		qrChan, err := c.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("upstream: qr channel: %w", err)
		}
		if err := c.cli.Connect(); err != nil {
			return fmt.Errorf("upstream: connect: %w", err)
		}
		go c.forwardQR(qrChan)
		return nil
	}
	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("upstream: connect: %w", err)
	}
	return nil
}

func (c *whatsmeowClient) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.emit(QREvent{Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			// Pairing completed; the Connected event follows on the
			// regular handler.
		default:
			c.emit(DisconnectedEvent{Reason: "pairing: " + item.Event})
		}
	}
}

func (c *whatsmeowClient) Disconnect() {
	c.cli.Disconnect()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *whatsmeowClient) Logout(ctx context.Context) error {
	if err := c.cli.Logout(ctx); err != nil {
		return fmt.Errorf("upstream: logout: %w", err)
	}
	return nil
}

func (c *whatsmeowClient) HasCredentials() bool {
	return c.cli.Store.ID != nil
}

func (c *whatsmeowClient) SelfJID() string {
	if c.cli.Store.ID == nil {
		return ""
	}
	return c.cli.Store.ID.ToNonAD().String()
}

func (c *whatsmeowClient) Events() <-chan Event {
	return c.events
}

func (c *whatsmeowClient) SendText(ctx context.Context, jid, text string) (SendResult, error) {
	if !c.cli.IsConnected() {
		return SendResult{}, ErrNotConnected
	}
	to, err := types.ParseJID(jid)
	if err != nil {
		return SendResult{}, fmt.Errorf("upstream: invalid jid %q: %w", jid, err)
	}
	resp, err := c.cli.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("upstream: send: %w", err)
	}
	return SendResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *whatsmeowClient) CheckNumber(ctx context.Context, digits string) (CheckResult, error) {
	if !c.cli.IsConnected() {
		return CheckResult{}, ErrNotConnected
	}
	resp, err := c.cli.IsOnWhatsApp(ctx, []string{"+" + digits})
	if err != nil {
		return CheckResult{}, fmt.Errorf("upstream: check number: %w", err)
	}
	if len(resp) == 0 {
		return CheckResult{}, nil
	}
	return CheckResult{Exists: resp[0].IsIn, JID: resp[0].JID.String()}, nil
}

func (c *whatsmeowClient) GetBusinessProfile(ctx context.Context) (*BusinessProfile, error) {
	if c.cli.Store.ID == nil {
		return nil, ErrNotConnected
	}
	profile, err := c.cli.GetBusinessProfile(ctx, c.cli.Store.ID.ToNonAD())
	if err != nil {
		return nil, fmt.Errorf("upstream: business profile: %w", err)
	}
	if profile == nil {
		return nil, nil
	}
	return &BusinessProfile{
		Name:    c.cli.Store.PushName,
		Address: profile.Address,
		Email:   profile.Email,
	}, nil
}

func (c *whatsmeowClient) GetStatusMessage(ctx context.Context) (string, error) {
	if c.cli.Store.ID == nil {
		return "", ErrNotConnected
	}
	self := c.cli.Store.ID.ToNonAD()
	info, err := c.cli.GetUserInfo(ctx, []types.JID{self})
	if err != nil {
		return "", fmt.Errorf("upstream: user info: %w", err)
	}
	return info[self].Status, nil
}

func (c *whatsmeowClient) FetchMessageHistory(ctx context.Context, count int, anchor HistoryAnchor) error {
	if !c.cli.IsConnected() {
		return ErrNotConnected
	}
	chat, err := types.ParseJID(anchor.ChatJID)
	if err != nil {
		return fmt.Errorf("upstream: invalid chat jid %q: %w", anchor.ChatJID, err)
	}
	last := &types.MessageInfo{
		MessageSource: types.MessageSource{Chat: chat, IsFromMe: anchor.FromMe},
		ID:            anchor.ID,
		Timestamp:     unixTime(anchor.Timestamp),
	}
	req := c.cli.BuildHistorySyncRequest(last, count)
	_, err = c.cli.SendMessage(ctx, c.cli.Store.ID.ToNonAD(), req, whatsmeow.SendRequestExtra{Peer: true})
	if err != nil {
		return fmt.Errorf("upstream: history request: %w", err)
	}
	return nil
}

// emit delivers an event without ever blocking whatsmeow's dispatcher. When
// the buffer is full the oldest event is discarded.
func (c *whatsmeowClient) emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.events <- e:
			return
		default:
		}
		select {
		case dropped := <-c.events:
			c.log.Warn().Type("event", dropped).Msg("event buffer full, dropping oldest")
		default:
		}
	}
}

func (c *whatsmeowClient) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		c.emit(ConnectedEvent{})
	case *events.Disconnected:
		c.emit(DisconnectedEvent{})
	case *events.LoggedOut:
		c.emit(DisconnectedEvent{LoggedOut: true, Reason: evt.Reason.String()})
	case *events.StreamReplaced:
		c.emit(DisconnectedEvent{Reason: "stream replaced"})
	case *events.Message:
		if msg := c.translateMessage(evt); msg != nil {
			c.emit(MessagesEvent{Kind: "notify", Messages: []RawMessage{*msg}})
		}
	case *events.HistorySync:
		c.emit(c.translateHistory(evt))
	}
}

func (c *whatsmeowClient) translateMessage(evt *events.Message) *RawMessage {
	if evt.Message == nil {
		return nil
	}
	raw := RawMessage{
		ID:        evt.Info.ID,
		ChatJID:   evt.Info.Chat.String(),
		SenderJID: evt.Info.Sender.String(),
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
		PushName:  evt.Info.PushName,
	}
	fillContent(&raw, evt.Message)
	return &raw
}

// fillContent sets Kind and the per-kind payload fields from the decoded
// protobuf. Unrecognized payloads keep Kind "unknown" so downstream layers
// can still persist the envelope.
func fillContent(raw *RawMessage, msg *waE2E.Message) {
	switch {
	case msg.GetConversation() != "":
		raw.Kind = "conversation"
		raw.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		ext := msg.GetExtendedTextMessage()
		raw.Kind = "extendedTextMessage"
		raw.Text = ext.GetText()
		raw.QuotedID = ext.GetContextInfo().GetStanzaID()
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		raw.Kind = "imageMessage"
		raw.Caption = img.GetCaption()
		raw.Mimetype = img.GetMimetype()
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		raw.Kind = "videoMessage"
		raw.Caption = vid.GetCaption()
		raw.Mimetype = vid.GetMimetype()
		raw.Seconds = vid.GetSeconds()
	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		raw.Kind = "audioMessage"
		raw.Mimetype = aud.GetMimetype()
		raw.Seconds = aud.GetSeconds()
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		raw.Kind = "documentMessage"
		raw.Caption = doc.GetCaption()
		raw.Mimetype = doc.GetMimetype()
		raw.FileName = doc.GetFileName()
	case msg.GetStickerMessage() != nil:
		raw.Kind = "stickerMessage"
		raw.Mimetype = msg.GetStickerMessage().GetMimetype()
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		raw.Kind = "locationMessage"
		raw.Latitude = loc.GetDegreesLatitude()
		raw.Longitude = loc.GetDegreesLongitude()
		raw.LocationName = loc.GetName()
	case msg.GetContactMessage() != nil:
		con := msg.GetContactMessage()
		raw.Kind = "contactMessage"
		raw.ContactName = con.GetDisplayName()
		raw.VCard = con.GetVcard()
	case msg.GetProtocolMessage() != nil:
		raw.Kind = "protocolMessage"
	default:
		raw.Kind = "unknown"
	}
}

func (c *whatsmeowClient) translateHistory(evt *events.HistorySync) HistoryEvent {
	var out HistoryEvent
	if evt.Data == nil {
		return out
	}

	for _, pn := range evt.Data.GetPushnames() {
		if pn.GetID() == "" || pn.GetPushname() == "" {
			continue
		}
		out.Contacts = append(out.Contacts, RawContact{JID: pn.GetID(), Name: pn.GetPushname()})
	}

	for _, conv := range evt.Data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			c.log.Warn().Str("jid", conv.GetID()).Msg("skipping history conversation with bad jid")
			continue
		}
		out.Chats = append(out.Chats, RawChat{
			JID:             chatJID.String(),
			Name:            conv.GetName(),
			UnreadCount:     int(conv.GetUnreadCount()),
			LastMessageTime: unixTime(int64(conv.GetConversationTimestamp())),
		})

		for _, hm := range conv.GetMessages() {
			webMsg := hm.GetMessage()
			if webMsg == nil {
				continue
			}
			parsed, err := c.cli.ParseWebMessage(chatJID, webMsg)
			if err != nil {
				c.log.Debug().Err(err).Str("chat", chatJID.String()).Msg("skipping unparseable history message")
				continue
			}
			if msg := c.translateMessage(parsed); msg != nil {
				out.Messages = append(out.Messages, *msg)
			}
		}
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// Package session hosts the per-tenant connection state machines that wrap
// the upstream client, translating protocol events into ingestion records
// and webhook notifications.
package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/erauner12/wa-gateway/internal/ingest"
	"github.com/erauner12/wa-gateway/internal/model"
	"github.com/erauner12/wa-gateway/internal/store"
	"github.com/erauner12/wa-gateway/internal/upstream"
	"github.com/erauner12/wa-gateway/internal/webhook"
)

// State is the session lifecycle phase.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateWaitingQR    State = "waiting_qr"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateLoggedOut    State = "logged_out"
)

var (
	ErrNotConnected     = errors.New("session: not connected")
	ErrNoCredentials    = errors.New("session: no stored credentials")
	ErrQRTimeout        = errors.New("session: timed out waiting for pairing code")
	ErrAlreadyConnected = errors.New("session: already paired")
	ErrClosed           = errors.New("session: closed")
)

// Producer is the ingestion entry point the session feeds.
type Producer interface {
	Enqueue(m model.MessageInfo) ingest.Acceptance
}

// Notifier delivers webhook events for a tenant.
type Notifier interface {
	Notify(ctx context.Context, username, event string, data any) error
}

// Options bound the session's pairing wait and reconnect budget.
type Options struct {
	QRWaitTimeout        time.Duration
	MaxReconnectAttempts int
	// ReconnectDelay spaces consecutive reconnect attempts. Tests shrink it.
	ReconnectDelay time.Duration
}

func (o *Options) fillDefaults() {
	if o.QRWaitTimeout <= 0 {
		o.QRWaitTimeout = 300 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
}

// Status is the externally visible connection state.
type Status struct {
	State             State  `json:"state"`
	Connected         bool   `json:"connected"`
	QR                string `json:"qr,omitempty"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
}

// Session is one tenant's connection state machine. All transitions happen
// under mu; upstream I/O happens outside it.
type Session struct {
	username    string
	sessionPath string
	dialer      upstream.Dialer
	store       store.Store
	producer    Producer
	notifier    Notifier
	opts        Options
	log         zerolog.Logger

	mu                sync.Mutex
	state             State
	client            upstream.Client
	qr                string
	qrNotify          chan struct{}
	reconnectAttempts int
	reconnecting      bool
	business          *model.BusinessInfo
	closed            bool

	wg sync.WaitGroup
}

func NewSession(username, sessionPath string, dialer upstream.Dialer, st store.Store, producer Producer, notifier Notifier, opts Options, logger zerolog.Logger) *Session {
	opts.fillDefaults()
	return &Session{
		username:    username,
		sessionPath: sessionPath,
		dialer:      dialer,
		store:       st,
		producer:    producer,
		notifier:    notifier,
		opts:        opts,
		log:         logger.With().Str("component", "session").Str("username", username).Logger(),
		state:       StateIdle,
		qrNotify:    make(chan struct{}),
	}
}

// Connect starts a fresh initialization. Safe to call while already
// connecting or connected; those calls are no-ops.
func (s *Session) Connect(ctx context.Context) error {
	return s.initialize(ctx, false)
}

func (s *Session) initialize(ctx context.Context, isReconnecting bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch s.state {
	case StateConnecting, StateWaitingQR, StateConnected:
		s.mu.Unlock()
		return nil
	}
	if isReconnecting {
		if !s.dialer.HasStoredCredentials(s.sessionPath) {
			s.state = StateIdle
			s.mu.Unlock()
			return ErrNoCredentials
		}
		if s.reconnectAttempts > s.opts.MaxReconnectAttempts {
			// Retry budget exhausted: wipe the device and start over as a
			// fresh pairing.
			s.log.Warn().Int("attempts", s.reconnectAttempts).Msg("reconnect ceiling hit, wiping credentials")
			s.state = StateLoggedOut
			s.reconnectAttempts = 0
			isReconnecting = false
			s.mu.Unlock()
			s.wipeCredentials()
			s.mu.Lock()
		}
	}
	s.state = StateConnecting
	s.reconnecting = isReconnecting
	s.qr = ""
	s.mu.Unlock()

	client, err := s.dialer.Dial(ctx, s.sessionPath)
	if err != nil {
		s.setState(StateIdle)
		return err
	}
	if err := client.Connect(ctx); err != nil {
		s.setState(StateIdle)
		return err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runEventLoop(client)
	s.log.Info().Bool("reconnect", isReconnecting).Msg("session initializing")
	return nil
}

func (s *Session) runEventLoop(client upstream.Client) {
	defer s.wg.Done()
	for evt := range client.Events() {
		switch e := evt.(type) {
		case upstream.QREvent:
			s.handleQR(e)
		case upstream.ConnectedEvent:
			s.handleConnected()
		case upstream.DisconnectedEvent:
			s.handleDisconnected(client, e)
		case upstream.MessagesEvent:
			s.handleMessages(e)
		case upstream.HistoryEvent:
			s.handleHistory(e)
		case upstream.ChatsEvent:
			s.handleChats(e)
		case upstream.ContactsEvent:
			s.handleContacts(e)
		}
	}
}

func (s *Session) handleQR(e upstream.QREvent) {
	s.mu.Lock()
	s.state = StateWaitingQR
	s.qr = e.Code
	s.broadcastQRLocked()
	s.mu.Unlock()

	s.log.Info().Msg("pairing code received")
	s.notify(context.Background(), webhook.EventQR, webhook.ConnectionUpdate{Status: "waiting_qr"})
}

func (s *Session) handleConnected() {
	s.mu.Lock()
	s.state = StateConnected
	s.reconnectAttempts = 0
	wasReconnect := s.reconnecting
	s.reconnecting = false
	s.qr = ""
	s.broadcastQRLocked()
	s.mu.Unlock()

	s.log.Info().Bool("reconnect", wasReconnect).Msg("connected")
	ctx := context.Background()
	s.notify(ctx, webhook.EventConnection, webhook.ConnectionUpdate{Status: "connected"})
	s.refreshBusinessInfo(ctx)
	if wasReconnect {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.syncHistoryOnReconnect(context.Background())
		}()
	}
}

func (s *Session) handleDisconnected(client upstream.Client, e upstream.DisconnectedEvent) {
	s.mu.Lock()
	if s.closed || s.state == StateLoggedOut {
		s.mu.Unlock()
		return
	}
	if e.LoggedOut {
		s.state = StateLoggedOut
		s.reconnectAttempts = 0
		s.client = nil
		s.mu.Unlock()

		s.log.Warn().Str("reason", e.Reason).Msg("logged out by upstream")
		s.notify(context.Background(), webhook.EventConnection, webhook.ConnectionUpdate{Status: "logged_out", Reason: e.Reason})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			client.Disconnect()
			s.wipeCredentials()
			s.setState(StateIdle)
			if err := s.initialize(context.Background(), false); err != nil && !errors.Is(err, ErrClosed) {
				s.log.Error().Err(err).Msg("re-initialize after logout failed")
			}
		}()
		return
	}

	s.state = StateReconnecting
	s.reconnectAttempts++
	attempt := s.reconnectAttempts
	s.client = nil
	s.mu.Unlock()

	s.log.Warn().Int("attempt", attempt).Str("reason", e.Reason).Msg("disconnected, scheduling reconnect")
	s.notify(context.Background(), webhook.EventConnection, webhook.ConnectionUpdate{Status: "reconnecting"})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		client.Disconnect()
		s.retryReconnect()
	}()
}

// retryReconnect drives initialize until it succeeds or the session can no
// longer reconnect (closed, logged out, credentials gone). A failed dial
// counts against the reconnect ceiling like a dropped connection does.
func (s *Session) retryReconnect() {
	for {
		time.Sleep(s.opts.ReconnectDelay)
		err := s.initialize(context.Background(), true)
		if err == nil || errors.Is(err, ErrClosed) || errors.Is(err, ErrNoCredentials) {
			return
		}
		s.log.Error().Err(err).Msg("reconnect failed")
		s.reportError(context.Background(), "reconnect", err)

		s.mu.Lock()
		if s.closed || s.state != StateIdle {
			s.mu.Unlock()
			return
		}
		s.state = StateReconnecting
		s.reconnectAttempts++
		s.mu.Unlock()
	}
}

func (s *Session) handleMessages(e upstream.MessagesEvent) {
	if e.Kind != "notify" {
		return
	}
	s.mu.Lock()
	business := s.business
	s.mu.Unlock()

	ctx := context.Background()
	for _, raw := range e.Messages {
		m, ok := Normalize(raw)
		if !ok {
			continue
		}
		acc := s.producer.Enqueue(m)
		if !acc.Accepted {
			s.log.Warn().Str("id", m.ID).Str("reason", acc.Reason).Msg("message not accepted for ingestion")
			continue
		}
		s.notify(ctx, webhook.EventMessageReceived, webhook.MessageReceived{Message: m, Business: business})
	}
}

func (s *Session) handleHistory(e upstream.HistoryEvent) {
	ctx := context.Background()

	if len(e.Chats) > 0 {
		upserts := make([]model.ChatUpsert, 0, len(e.Chats))
		for _, c := range e.Chats {
			upserts = append(upserts, chatUpsertFromRaw(c))
		}
		if err := s.store.UpsertChats(ctx, upserts); err != nil {
			s.reportError(ctx, "history chats upsert", err)
		}
	}
	for _, ct := range e.Contacts {
		if err := s.store.UpsertChat(ctx, contactUpsert(ct)); err != nil {
			s.reportError(ctx, "history contact upsert", err)
		}
	}
	for _, raw := range e.Messages {
		m, ok := Normalize(raw)
		if !ok {
			continue
		}
		if acc := s.producer.Enqueue(m); !acc.Accepted {
			s.log.Warn().Str("id", m.ID).Str("reason", acc.Reason).Msg("history message not accepted")
		}
	}
}

func (s *Session) handleChats(e upstream.ChatsEvent) {
	if len(e.Chats) == 0 {
		return
	}
	ctx := context.Background()
	upserts := make([]model.ChatUpsert, 0, len(e.Chats))
	for _, c := range e.Chats {
		upserts = append(upserts, chatUpsertFromRaw(c))
	}
	if err := s.store.UpsertChats(ctx, upserts); err != nil {
		s.reportError(ctx, "chats upsert", err)
	}
}

func (s *Session) handleContacts(e upstream.ContactsEvent) {
	ctx := context.Background()
	for _, ct := range e.Contacts {
		if err := s.store.UpsertChat(ctx, contactUpsert(ct)); err != nil {
			s.reportError(ctx, "contact upsert", err)
		}
	}
}

func chatUpsertFromRaw(c upstream.RawChat) model.ChatUpsert {
	isGroup := model.IsGroupJID(c.JID)
	up := model.ChatUpsert{JID: c.JID, IsGroup: &isGroup}
	if c.Name != "" {
		name := c.Name
		up.Name = &name
	}
	if c.UnreadCount > 0 {
		n := c.UnreadCount
		up.UnreadCount = &n
	}
	if !c.LastMessageTime.IsZero() {
		ts := c.LastMessageTime.Unix()
		up.LastMessageTimestamp = &ts
	}
	return up
}

func contactUpsert(ct upstream.RawContact) model.ChatUpsert {
	name := ct.Name
	isGroup := model.IsGroupJID(ct.JID)
	return model.ChatUpsert{JID: ct.JID, Name: &name, IsGroup: &isGroup}
}

// WaitForQR blocks until a pairing code is available, the session turns out
// to already be paired, or the wait times out.
func (s *Session) WaitForQR(ctx context.Context) (string, error) {
	deadline := time.NewTimer(s.opts.QRWaitTimeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		if s.qr != "" {
			qr := s.qr
			s.mu.Unlock()
			return qr, nil
		}
		if s.state == StateConnected {
			s.mu.Unlock()
			return "", ErrAlreadyConnected
		}
		if s.closed {
			s.mu.Unlock()
			return "", ErrClosed
		}
		notify := s.qrNotify
		s.mu.Unlock()

		select {
		case <-notify:
		case <-deadline.C:
			return "", ErrQRTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// SendMessage sends text to a destination and feeds the synthesized
// outbound message through the same ingestion path as inbound traffic.
func (s *Session) SendMessage(ctx context.Context, to, text string) (model.MessageInfo, error) {
	client, err := s.connectedClient()
	if err != nil {
		return model.MessageInfo{}, err
	}
	jid := model.NormalizeJID(to)
	res, err := client.SendText(ctx, jid, text)
	if err != nil {
		return model.MessageInfo{}, err
	}
	m := model.MessageInfo{
		ID:        res.ID,
		From:      jid,
		FromMe:    true,
		Timestamp: res.Timestamp.Unix(),
		Type:      "conversation",
		Content:   model.Content{Type: model.ContentText, Text: text},
		IsGroup:   model.IsGroupJID(jid),
	}
	if acc := s.producer.Enqueue(m); !acc.Accepted {
		s.log.Warn().Str("id", m.ID).Str("reason", acc.Reason).Msg("outbound message not accepted for ingestion")
	}
	return m, nil
}

// CheckNumber asks upstream whether a phone number is registered.
func (s *Session) CheckNumber(ctx context.Context, phone string) (upstream.CheckResult, error) {
	client, err := s.connectedClient()
	if err != nil {
		return upstream.CheckResult{}, err
	}
	return client.CheckNumber(ctx, model.Digits(phone))
}

// Logout invalidates the upstream session and erases local credentials.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.state = StateLoggedOut
	s.reconnectAttempts = 0
	s.client = nil
	s.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	if err := client.Logout(ctx); err != nil {
		s.log.Error().Err(err).Msg("upstream logout failed, wiping local state anyway")
	}
	client.Disconnect()
	s.wipeCredentials()
	s.notify(ctx, webhook.EventConnection, webhook.ConnectionUpdate{Status: "logged_out", Reason: "user_logout"})
	return nil
}

// Status returns the current lifecycle snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:             s.state,
		Connected:         s.state == StateConnected,
		QR:                s.qr,
		ReconnectAttempts: s.reconnectAttempts,
	}
}

// BusinessSnapshot returns the last refreshed business info, if any.
func (s *Session) BusinessSnapshot() *model.BusinessInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.business
}

// Close tears the session down without logging out: credentials stay on
// disk so the session can be restored on the next start.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	client := s.client
	s.client = nil
	s.state = StateIdle
	s.broadcastQRLocked()
	s.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	s.wg.Wait()
}

// refreshBusinessInfo merges the upstream business profile and status into
// the stored record, preserving stored values for anything upstream does
// not report.
func (s *Session) refreshBusinessInfo(ctx context.Context) {
	client, err := s.connectedClient()
	if err != nil {
		return
	}

	var merged model.BusinessInfo
	if stored, err := s.store.BusinessInfo(ctx, s.username); err != nil {
		s.log.Error().Err(err).Msg("loading stored business info")
	} else if stored != nil {
		merged = *stored
	}

	if profile, err := client.GetBusinessProfile(ctx); err != nil {
		s.log.Debug().Err(err).Msg("business profile unavailable")
	} else if profile != nil {
		if profile.Name != "" {
			merged.Name = profile.Name
		}
		if profile.Website != "" {
			merged.WebsiteURL = profile.Website
		}
	}
	if about, err := client.GetStatusMessage(ctx); err != nil {
		s.log.Debug().Err(err).Msg("status message unavailable")
	} else if about != "" {
		merged.About = about
	}

	if self := client.SelfJID(); self != "" {
		if number := model.JIDToE164(self); number != "" && !contains(merged.MobileNumbers, number) {
			merged.MobileNumbers = append(merged.MobileNumbers, number)
		}
	}
	merged.LastUpdated = time.Now().UTC()

	if err := s.store.SaveBusinessInfo(ctx, s.username, merged); err != nil {
		s.log.Error().Err(err).Msg("saving business info")
		return
	}
	s.mu.Lock()
	s.business = &merged
	s.mu.Unlock()
}

func (s *Session) connectedClient() (upstream.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// broadcastQRLocked wakes WaitForQR callers. Caller holds mu.
func (s *Session) broadcastQRLocked() {
	close(s.qrNotify)
	s.qrNotify = make(chan struct{})
}

func (s *Session) wipeCredentials() {
	if err := os.RemoveAll(s.sessionPath); err != nil {
		s.log.Error().Err(err).Str("path", s.sessionPath).Msg("wiping credentials")
	}
}

func (s *Session) notify(ctx context.Context, event string, data any) {
	if err := s.notifier.Notify(ctx, s.username, event, data); err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("webhook notify failed")
	}
}

func (s *Session) reportError(ctx context.Context, op string, err error) {
	s.log.Error().Err(err).Str("op", op).Msg("session error")
	s.notify(ctx, webhook.EventError, webhook.ErrorEvent{Op: op, Message: err.Error()})
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

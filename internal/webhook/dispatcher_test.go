package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/erauner12/wa-gateway/internal/model"
)

type fakeTenantConfig struct {
	hooks    []model.Webhook
	excluded []string
}

func (f *fakeTenantConfig) ActiveWebhooks(ctx context.Context, username string) ([]model.Webhook, error) {
	return f.hooks, nil
}

func (f *fakeTenantConfig) ExcludedNumbers(ctx context.Context, username string) ([]string, error) {
	return f.excluded, nil
}

func inboundMessage(from string) MessageReceived {
	return MessageReceived{Message: model.MessageInfo{
		ID:        "M1",
		From:      from,
		Timestamp: 1700000000,
		Type:      "conversation",
		Content:   model.Content{Type: model.ContentText, Text: "hello"},
	}}
}

func TestNotifySignsAndLabels(t *testing.T) {
	type captured struct {
		header http.Header
		body   []byte
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{header: r.Header.Clone(), body: body}
	}))
	defer srv.Close()

	cfg := &fakeTenantConfig{hooks: []model.Webhook{{ID: "wh1", Name: "crm", URL: srv.URL, Secret: "s3cret", IsActive: true}}}
	d := NewDispatcher(cfg, zerolog.Nop())

	if err := d.Notify(context.Background(), "alice", EventMessageReceived, inboundMessage("1555123@s.whatsapp.net")); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	c := <-got
	if ua := c.header.Get("User-Agent"); ua != "Baileys-API-Webhook" {
		t.Errorf("User-Agent = %q", ua)
	}
	if et := c.header.Get("X-Event-Type"); et != EventMessageReceived {
		t.Errorf("X-Event-Type = %q", et)
	}
	if u := c.header.Get("X-Username"); u != "alice" {
		t.Errorf("X-Username = %q", u)
	}
	if id := c.header.Get("X-Webhook-Id"); id != "wh1" {
		t.Errorf("X-Webhook-Id = %q", id)
	}

	// The signature must verify against the exact bytes received.
	if !Verify(c.header.Get("X-Signature"), c.body, "s3cret") {
		t.Error("signature does not verify")
	}
	if Verify(c.header.Get("X-Signature"), c.body, "wrong") {
		t.Error("signature verified under the wrong secret")
	}

	var p payload
	if err := json.Unmarshal(c.body, &p); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if p.Event != EventMessageReceived || p.Username != "alice" {
		t.Errorf("payload envelope = %+v", p)
	}
	if p.Webhook.ID != "wh1" || p.Webhook.URL != srv.URL {
		t.Errorf("webhook block = %+v", p.Webhook)
	}
}

func TestNotifyExcludedSenderSkipsDelivery(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := &fakeTenantConfig{
		hooks:    []model.Webhook{{ID: "wh1", URL: srv.URL, Secret: "s", IsActive: true}},
		excluded: []string{"+1555123"},
	}
	d := NewDispatcher(cfg, zerolog.Nop())

	if err := d.Notify(context.Background(), "alice", EventMessageReceived, inboundMessage("1555123@s.whatsapp.net")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no deliveries for excluded sender, got %d", calls.Load())
	}

	// Exclusion only applies to message.received.
	if err := d.Notify(context.Background(), "alice", EventConnection, ConnectionUpdate{Status: "connected"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected connection event delivered, got %d calls", calls.Load())
	}
}

func TestNotifyAllSettled(t *testing.T) {
	var okCalls atomic.Int64
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okCalls.Add(1)
	}))
	defer okSrv.Close()
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSrv.Close()

	cfg := &fakeTenantConfig{hooks: []model.Webhook{
		{ID: "wh1", URL: badSrv.URL, Secret: "s", IsActive: true},
		{ID: "wh2", URL: okSrv.URL, Secret: "s", IsActive: true},
		{ID: "wh3", URL: "http://127.0.0.1:1/unreachable", Secret: "s", IsActive: true},
	}}
	d := NewDispatcher(cfg, zerolog.Nop())

	// One 500 and one dead endpoint must not fail the call or starve wh2.
	if err := d.Notify(context.Background(), "alice", EventQR, ConnectionUpdate{Status: "waiting_qr"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if okCalls.Load() != 1 {
		t.Errorf("healthy webhook not delivered, calls=%d", okCalls.Load())
	}
}

func TestNotifyNoWebhooksIsNoop(t *testing.T) {
	d := NewDispatcher(&fakeTenantConfig{}, zerolog.Nop())
	if err := d.Notify(context.Background(), "alice", EventConnection, ConnectionUpdate{Status: "connected"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestVerifyRejectsMalformedHeaders(t *testing.T) {
	body := []byte(`{"event":"qr"}`)
	sig := Sign(body, "s")
	cases := []string{
		"",
		sig,             // missing algorithm prefix
		"md5=" + sig,    // unsupported algorithm
		"sha256=zzzz",   // not hex
		"sha256=" + sig[:10], // truncated
	}
	for _, h := range cases {
		if Verify(h, body, "s") {
			t.Errorf("Verify(%q) accepted", h)
		}
	}
	if !Verify("sha256="+sig, body, "s") {
		t.Error("valid header rejected")
	}
}

// Package webhook delivers signed event notifications to tenant-configured
// HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/erauner12/wa-gateway/internal/model"
)

// Event types emitted by tenant sessions.
const (
	EventMessageReceived = "message.received"
	EventConnection      = "connection"
	EventQR              = "qr"
	EventError           = "error"
)

const userAgent = "Baileys-API-Webhook"

// MessageReceived is the data body of a message.received event.
type MessageReceived struct {
	Message  model.MessageInfo   `json:"message"`
	Business *model.BusinessInfo `json:"business,omitempty"`
}

// ConnectionUpdate is the data body of connection and qr events.
type ConnectionUpdate struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ErrorEvent is the data body of an error event.
type ErrorEvent struct {
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}

// payload is the wire body. The webhook block differs per destination, so
// the body is serialized and signed once per destination.
type payload struct {
	Event     string      `json:"event"`
	Username  string      `json:"username"`
	Timestamp string      `json:"timestamp"`
	Data      any         `json:"data"`
	Webhook   webhookInfo `json:"webhook"`
}

type webhookInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TenantConfig is the slice of the store the dispatcher reads.
type TenantConfig interface {
	ActiveWebhooks(ctx context.Context, username string) ([]model.Webhook, error)
	ExcludedNumbers(ctx context.Context, username string) ([]string, error)
}

// Dispatcher fans an event out to every active webhook of a tenant.
// Destinations are independent: each gets its own signed POST, failures are
// logged and never cancel sibling deliveries.
type Dispatcher struct {
	cfg    TenantConfig
	client *http.Client
	log    zerolog.Logger
}

func NewDispatcher(cfg TenantConfig, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger.With().Str("component", "webhook").Logger(),
	}
}

// Notify delivers event to all active webhooks of username. It blocks until
// every delivery has settled. Delivery failures do not produce an error;
// only fetching the tenant configuration can.
func (d *Dispatcher) Notify(ctx context.Context, username, event string, data any) error {
	hooks, err := d.cfg.ActiveWebhooks(ctx, username)
	if err != nil {
		return fmt.Errorf("webhook: fetch destinations: %w", err)
	}
	if len(hooks) == 0 {
		return nil
	}

	if mr, ok := data.(MessageReceived); ok && event == EventMessageReceived {
		excluded, err := d.isExcluded(ctx, username, mr.Message.From)
		if err != nil {
			return err
		}
		if excluded {
			d.log.Debug().
				Str("username", username).
				Str("from", mr.Message.From).
				Msg("sender excluded, skipping delivery")
			return nil
		}
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	var wg sync.WaitGroup
	for _, hook := range hooks {
		wg.Add(1)
		go func(hook model.Webhook) {
			defer wg.Done()
			if err := d.deliver(ctx, username, event, ts, data, hook); err != nil {
				d.log.Error().Err(err).
					Str("username", username).
					Str("event", event).
					Str("webhook_id", hook.ID).
					Str("url", hook.URL).
					Msg("webhook delivery failed")
				return
			}
			d.log.Info().
				Str("username", username).
				Str("event", event).
				Str("webhook_name", hook.Name).
				Msg("webhook delivered")
		}(hook)
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) isExcluded(ctx context.Context, username, from string) (bool, error) {
	excluded, err := d.cfg.ExcludedNumbers(ctx, username)
	if err != nil {
		return false, fmt.Errorf("webhook: fetch exclusions: %w", err)
	}
	if len(excluded) == 0 {
		return false, nil
	}
	number := model.JIDToE164(from)
	for _, e := range excluded {
		if e == number {
			return true, nil
		}
	}
	return false, nil
}

func (d *Dispatcher) deliver(ctx context.Context, username, event, ts string, data any, hook model.Webhook) error {
	body, err := json.Marshal(payload{
		Event:     event,
		Username:  username,
		Timestamp: ts,
		Data:      data,
		Webhook:   webhookInfo{ID: hook.ID, Name: hook.Name, URL: hook.URL},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Event-Type", event)
	req.Header.Set("X-Username", username)
	req.Header.Set("X-Webhook-Id", hook.ID)
	req.Header.Set("X-Webhook-Name", hook.Name)
	req.Header.Set("X-Signature", "sha256="+Sign(body, hook.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post: status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the lowercase-hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an X-Signature header value against the body. The header is
// "<algorithm>=<hex>"; only sha256 is supported. Comparison is constant
// time.
func Verify(header string, body []byte, secret string) bool {
	algo, sig, found := strings.Cut(header, "=")
	if !found || algo != "sha256" {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

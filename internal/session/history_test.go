package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/erauner12/wa-gateway/internal/model"
	"github.com/erauner12/wa-gateway/internal/upstream"
)

// historyStore scripts the anchor sequence the backfill loop reads between
// fetches.
type historyStore struct {
	stubStore
	amu     sync.Mutex
	anchors []*model.MessageAnchor
	idx     int
}

func (h *historyStore) ListConversations(ctx context.Context, limit int, cursor string) ([]model.Chat, string, error) {
	return []model.Chat{{JID: "1555@s.whatsapp.net"}}, "", nil
}

func (h *historyStore) OldestMessageAnchor(ctx context.Context, jid string) (*model.MessageAnchor, error) {
	h.amu.Lock()
	defer h.amu.Unlock()
	if h.idx >= len(h.anchors) {
		return h.anchors[len(h.anchors)-1], nil
	}
	a := h.anchors[h.idx]
	h.idx++
	return a, nil
}

func connectedHistorySession(t *testing.T, st *historyStore) (*Session, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{}
	s := NewSession("alice", filepath.Join(t.TempDir(), "alice"), dialer, st, &fakeProducer{}, &fakeNotifier{}, Options{}, zerolog.Nop())
	t.Cleanup(s.Close)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	dialer.client(0).push(upstream.ConnectedEvent{})
	awaitState(t, s, StateConnected)
	return s, dialer
}

func TestHistoryBackfillStopsWhenAnchorStalls(t *testing.T) {
	if testing.Short() {
		t.Skip("settle waits make this test slow")
	}
	st := &historyStore{anchors: []*model.MessageAnchor{
		{ID: "A1", JID: "1555@s.whatsapp.net", Timestamp: 1700000100}, // page 0 start
		{ID: "A0", JID: "1555@s.whatsapp.net", Timestamp: 1700000000}, // advanced: keep going
		{ID: "A0", JID: "1555@s.whatsapp.net", Timestamp: 1700000000}, // page 1 start
		{ID: "A0", JID: "1555@s.whatsapp.net", Timestamp: 1700000000}, // stalled: stop
	}}
	s, dialer := connectedHistorySession(t, st)

	if err := s.syncHistoryForChat(context.Background(), "1555@s.whatsapp.net"); err != nil {
		t.Fatalf("syncHistoryForChat: %v", err)
	}

	cli := dialer.client(0)
	cli.mu.Lock()
	fetches := append([]upstream.HistoryAnchor(nil), cli.history...)
	cli.mu.Unlock()
	if len(fetches) != 2 {
		t.Fatalf("expected 2 fetches, got %d", len(fetches))
	}
	if fetches[0].ID != "A1" || fetches[1].ID != "A0" {
		t.Errorf("fetch anchors = %v", fetches)
	}
}

func TestHistoryBackfillSkipsEmptyChat(t *testing.T) {
	st := &historyStore{anchors: []*model.MessageAnchor{nil}}
	s, dialer := connectedHistorySession(t, st)

	if err := s.syncHistoryForChat(context.Background(), "1555@s.whatsapp.net"); err != nil {
		t.Fatalf("syncHistoryForChat: %v", err)
	}
	cli := dialer.client(0)
	cli.mu.Lock()
	defer cli.mu.Unlock()
	if len(cli.history) != 0 {
		t.Errorf("expected no fetches for a chat with no messages, got %d", len(cli.history))
	}
}

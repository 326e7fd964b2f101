package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erauner12/wa-gateway/internal/model"
)

// Integration tests: set TEST_DATABASE_URL to a disposable database to run.
func testStore(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, table := range []string{"message", "chat", "webhook", "excluded_number", "business_info"} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return NewPostgres(pool)
}

func infoRecord(id, jid string, ts int64, text string) model.IngestRecord {
	return model.NewIngestRecord(model.MessageInfo{
		ID:        id,
		From:      jid,
		Timestamp: ts,
		Type:      "conversation",
		PushName:  "Bob",
		Content:   model.Content{Type: model.ContentText, Text: text},
	})
}

func TestSaveMessagesBatchIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	jid := "1555@s.whatsapp.net"

	batch := []model.IngestRecord{
		infoRecord("M1", jid, 1700000001, "first"),
		infoRecord("M2", jid, 1700000002, "second"),
	}
	if err := s.SaveMessagesBatch(ctx, batch); err != nil {
		t.Fatalf("SaveMessagesBatch: %v", err)
	}
	// Second delivery of the same records is a no-op.
	if err := s.SaveMessagesBatch(ctx, batch); err != nil {
		t.Fatalf("replayed batch: %v", err)
	}

	msgs, _, err := s.ListMessages(ctx, jid, 10, "")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 rows after duplicate delivery, got %d", len(msgs))
	}
	// Newest first.
	if msgs[0].ID != "M2" || msgs[1].ID != "M1" {
		t.Errorf("order = %s, %s", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Content.Text != "second" {
		t.Errorf("content round-trip: %+v", msgs[0].Content)
	}

	// The chat row was derived from the messages.
	chats, _, err := s.ListConversations(ctx, 10, "")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(chats) != 1 || chats[0].JID != jid {
		t.Fatalf("chats = %+v", chats)
	}
	if chats[0].Name != "Bob" {
		t.Errorf("push name not learned: %+v", chats[0])
	}
	if chats[0].LastMessageTimestamp == nil || *chats[0].LastMessageTimestamp != 1700000002 {
		t.Errorf("last message timestamp = %v", chats[0].LastMessageTimestamp)
	}
}

func TestUpsertChatMergesPartials(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	jid := "1555@s.whatsapp.net"

	name := "Bob"
	if err := s.UpsertChat(ctx, model.ChatUpsert{JID: jid, Name: &name}); err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}
	// A later partial write without a name must not clear it.
	unread := 3
	if err := s.UpsertChat(ctx, model.ChatUpsert{JID: jid, UnreadCount: &unread}); err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}

	chats, _, err := s.ListConversations(ctx, 10, "")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(chats) != 1 || chats[0].Name != "Bob" || chats[0].UnreadCount != 3 {
		t.Errorf("merged chat = %+v", chats)
	}
}

func TestListMessagesPagination(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	jid := "1555@s.whatsapp.net"

	var recs []model.IngestRecord
	for i := 0; i < 5; i++ {
		recs = append(recs, infoRecord(fmt.Sprintf("M%d", i), jid, 1700000000+int64(i), "m"))
	}
	if err := s.SaveMessagesBatch(ctx, recs); err != nil {
		t.Fatalf("SaveMessagesBatch: %v", err)
	}

	page1, cursor, err := s.ListMessages(ctx, jid, 2, "")
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 2 || cursor == "" {
		t.Fatalf("page 1 = %d rows, cursor %q", len(page1), cursor)
	}
	page2, _, err := s.ListMessages(ctx, jid, 2, cursor)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("page 2 = %d rows", len(page2))
	}
	// Strict upper bound: no overlap between pages.
	if page2[0].ID == page1[1].ID {
		t.Errorf("cursor page overlaps: %s", page2[0].ID)
	}
}

func TestOldestMessageAnchor(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	jid := "1555@s.whatsapp.net"

	a, err := s.OldestMessageAnchor(ctx, jid)
	if err != nil {
		t.Fatalf("OldestMessageAnchor: %v", err)
	}
	if a != nil {
		t.Fatalf("expected nil anchor for empty chat, got %+v", a)
	}

	if err := s.SaveMessagesBatch(ctx, []model.IngestRecord{
		infoRecord("M1", jid, 1700000005, "newer"),
		infoRecord("M0", jid, 1700000001, "older"),
	}); err != nil {
		t.Fatalf("SaveMessagesBatch: %v", err)
	}
	a, err = s.OldestMessageAnchor(ctx, jid)
	if err != nil {
		t.Fatalf("OldestMessageAnchor: %v", err)
	}
	if a == nil || a.ID != "M0" || a.Timestamp != 1700000001 {
		t.Errorf("anchor = %+v", a)
	}
}

func TestBusinessInfoRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	b, err := s.BusinessInfo(ctx, "alice")
	if err != nil {
		t.Fatalf("BusinessInfo: %v", err)
	}
	if b != nil {
		t.Fatalf("expected nil for unknown tenant, got %+v", b)
	}

	info := model.BusinessInfo{
		Name:          "Acme",
		About:         "open for business",
		WebsiteURL:    "https://acme.example",
		MobileNumbers: []string{"+15550001111"},
	}
	if err := s.SaveBusinessInfo(ctx, "alice", info); err != nil {
		t.Fatalf("SaveBusinessInfo: %v", err)
	}
	info.About = "on vacation"
	if err := s.SaveBusinessInfo(ctx, "alice", info); err != nil {
		t.Fatalf("update: %v", err)
	}

	b, err = s.BusinessInfo(ctx, "alice")
	if err != nil {
		t.Fatalf("BusinessInfo: %v", err)
	}
	if b == nil || b.Name != "Acme" || b.About != "on vacation" {
		t.Errorf("stored info = %+v", b)
	}
	if len(b.MobileNumbers) != 1 || b.MobileNumbers[0] != "+15550001111" {
		t.Errorf("mobile numbers = %v", b.MobileNumbers)
	}
	if time.Since(b.LastUpdated) > time.Minute {
		t.Errorf("last_updated not stamped: %s", b.LastUpdated)
	}
}

func TestWebhooksAndExclusions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.DB.Exec(ctx, `
		INSERT INTO webhook (id, username, url, name, secret, is_active) VALUES
			('6b1a0b2e-0000-4000-8000-000000000001', 'alice', 'https://a.example/hook', 'crm', 's1', TRUE),
			('6b1a0b2e-0000-4000-8000-000000000002', 'alice', 'https://b.example/hook', 'old', 's2', FALSE),
			('6b1a0b2e-0000-4000-8000-000000000003', 'bob',   'https://c.example/hook', 'bot', 's3', TRUE)
	`)
	if err != nil {
		t.Fatalf("seed webhooks: %v", err)
	}
	hooks, err := s.ActiveWebhooks(ctx, "alice")
	if err != nil {
		t.Fatalf("ActiveWebhooks: %v", err)
	}
	if len(hooks) != 1 || hooks[0].Name != "crm" || hooks[0].Secret != "s1" {
		t.Errorf("hooks = %+v", hooks)
	}

	if _, err := s.DB.Exec(ctx,
		`INSERT INTO excluded_number (username, number) VALUES ('alice', '+15551234567')`); err != nil {
		t.Fatalf("seed exclusions: %v", err)
	}
	nums, err := s.ExcludedNumbers(ctx, "alice")
	if err != nil {
		t.Fatalf("ExcludedNumbers: %v", err)
	}
	if len(nums) != 1 || nums[0] != "+15551234567" {
		t.Errorf("exclusions = %v", nums)
	}
	if nums, _ := s.ExcludedNumbers(ctx, "bob"); len(nums) != 0 {
		t.Errorf("bob exclusions = %v", nums)
	}
}

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/model"
	"github.com/erauner12/wa-gateway/internal/syncx"
)

// Postgres implements Store on a pgx connection pool. All upserts use
// ON CONFLICT so the write path is idempotent; chat merges use COALESCE so
// partial updates never clobber known fields with NULL.
type Postgres struct {
	DB *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{DB: db}
}

const upsertChatSQL = `
	INSERT INTO chat (jid, name, is_group, unread_count, last_message_timestamp, last_message_text)
	VALUES ($1, $2, COALESCE($3, FALSE), COALESCE($4, 0), $5, $6)
	ON CONFLICT (jid) DO UPDATE SET
		name                   = COALESCE(EXCLUDED.name, chat.name),
		is_group               = COALESCE($3, chat.is_group),
		unread_count           = COALESCE($4, chat.unread_count),
		last_message_timestamp = COALESCE(EXCLUDED.last_message_timestamp, chat.last_message_timestamp),
		last_message_text      = COALESCE(EXCLUDED.last_message_text, chat.last_message_text)
`

// UpsertChat merges a partial chat write; nil fields leave stored values
// untouched.
func (s *Postgres) UpsertChat(ctx context.Context, c model.ChatUpsert) error {
	_, err := s.DB.Exec(ctx, upsertChatSQL,
		c.JID, c.Name, c.IsGroup, c.UnreadCount, c.LastMessageTimestamp, c.LastMessageText)
	if err != nil {
		return fmt.Errorf("upsert chat %s: %w", c.JID, err)
	}
	return nil
}

// UpsertChats merges a batch of chats in one transaction.
func (s *Postgres) UpsertChats(ctx context.Context, cs []model.ChatUpsert) error {
	if len(cs) == 0 {
		return nil
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chat batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range cs {
		if _, err := tx.Exec(ctx, upsertChatSQL,
			c.JID, c.Name, c.IsGroup, c.UnreadCount, c.LastMessageTimestamp, c.LastMessageText); err != nil {
			return fmt.Errorf("upsert chat %s: %w", c.JID, err)
		}
	}
	return tx.Commit(ctx)
}

const insertMessageSQL = `
	INSERT INTO message (id, jid, from_me, ts, type, push_name, content)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING
`

// SaveMessage upserts the chat row first, then inserts the message.
// Duplicate ids are no-ops.
func (s *Postgres) SaveMessage(ctx context.Context, m model.Message) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save message: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := saveMessageTx(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveMessagesBatch persists a batch of ingest records atomically. For each
// record the chat is upserted before the message insert, preserving the
// foreign-key ordering invariant within the transaction.
func (s *Postgres) SaveMessagesBatch(ctx context.Context, recs []model.IngestRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin message batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range recs {
		if err := saveMessageTx(ctx, tx, messageFromInfo(rec.Payload)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func saveMessageTx(ctx context.Context, tx pgx.Tx, m model.Message) error {
	cu := chatUpsertForMessage(m)
	if _, err := tx.Exec(ctx, upsertChatSQL,
		cu.JID, cu.Name, cu.IsGroup, cu.UnreadCount, cu.LastMessageTimestamp, cu.LastMessageText); err != nil {
		return fmt.Errorf("upsert chat %s: %w", cu.JID, err)
	}

	content, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("marshal content for %s: %w", m.ID, err)
	}
	if _, err := tx.Exec(ctx, insertMessageSQL,
		m.ID, m.JID, m.FromMe, m.Timestamp, m.Type, nullable(m.PushName), content); err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

// messageFromInfo converts the normalized in-memory shape to a row.
func messageFromInfo(mi model.MessageInfo) model.Message {
	return model.Message{
		ID:        mi.ID,
		JID:       mi.From,
		FromMe:    mi.FromMe,
		Timestamp: mi.Timestamp,
		Type:      mi.Type,
		PushName:  mi.PushName,
		Content:   mi.Content,
	}
}

// chatUpsertForMessage derives the chat-side effects of storing a message:
// bump the last-message columns, learn the display name from inbound
// individual chats.
func chatUpsertForMessage(m model.Message) model.ChatUpsert {
	isGroup := model.IsGroupJID(m.JID)
	cu := model.ChatUpsert{
		JID:                  m.JID,
		IsGroup:              &isGroup,
		LastMessageTimestamp: &m.Timestamp,
	}
	if text := previewText(m.Content); text != "" {
		cu.LastMessageText = &text
	}
	if !m.FromMe && !isGroup && m.PushName != "" {
		cu.Name = &m.PushName
	}
	return cu
}

func previewText(c model.Content) string {
	switch {
	case c.Text != "":
		return c.Text
	case c.Caption != "":
		return c.Caption
	default:
		return ""
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ListConversations returns chats ordered by last_message_timestamp
// descending with NULLs last. The cursor is a strict upper bound on the
// timestamp of the next page.
func (s *Postgres) ListConversations(ctx context.Context, limit int, cursor string) ([]model.Chat, string, error) {
	query := `
		SELECT jid, COALESCE(name, ''), is_group, unread_count, last_message_timestamp, last_message_text
		FROM chat
	`
	args := []any{}
	if cur, ok := syncx.Decode(cursor); ok {
		query += ` WHERE last_message_timestamp < $1`
		args = append(args, cur.Ts)
	}
	query += fmt.Sprintf(` ORDER BY last_message_timestamp DESC NULLS LAST LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, limit)
	var lastTs *int64
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.JID, &c.Name, &c.IsGroup, &c.UnreadCount, &c.LastMessageTimestamp, &c.LastMessageText); err != nil {
			return nil, "", fmt.Errorf("scan chat row: %w", err)
		}
		chats = append(chats, c)
		lastTs = c.LastMessageTimestamp
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("chat rows: %w", err)
	}

	next := ""
	if len(chats) == limit && lastTs != nil {
		next = syncx.Encode(syncx.Cursor{Ts: *lastTs})
	}
	return chats, next, nil
}

// ListMessages returns a chat's messages, newest first, cursor = strict
// upper bound on timestamp.
func (s *Postgres) ListMessages(ctx context.Context, jid string, limit int, cursor string) ([]model.Message, string, error) {
	query := `
		SELECT id, jid, from_me, ts, type, COALESCE(push_name, ''), content
		FROM message
		WHERE jid = $1
	`
	args := []any{jid}
	if cur, ok := syncx.Decode(cursor); ok {
		query += ` AND ts < $2`
		args = append(args, cur.Ts)
	}
	query += fmt.Sprintf(` ORDER BY ts DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list messages for %s: %w", jid, err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, limit)
	var lastTs int64
	for rows.Next() {
		var m model.Message
		var content []byte
		if err := rows.Scan(&m.ID, &m.JID, &m.FromMe, &m.Timestamp, &m.Type, &m.PushName, &content); err != nil {
			return nil, "", fmt.Errorf("scan message row: %w", err)
		}
		if err := json.Unmarshal(content, &m.Content); err != nil {
			log.Warn().Err(err).Str("id", m.ID).Msg("undecodable message content, returning raw type only")
		}
		msgs = append(msgs, m)
		lastTs = m.Timestamp
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("message rows: %w", err)
	}

	next := ""
	if len(msgs) == limit {
		next = syncx.Encode(syncx.Cursor{Ts: lastTs})
	}
	return msgs, next, nil
}

// OldestMessageAnchor returns the pagination anchor for history backfill,
// or nil when the chat has no stored messages.
func (s *Postgres) OldestMessageAnchor(ctx context.Context, jid string) (*model.MessageAnchor, error) {
	var a model.MessageAnchor
	err := s.DB.QueryRow(ctx, `
		SELECT id, jid, from_me, ts
		FROM message
		WHERE jid = $1
		ORDER BY ts ASC
		LIMIT 1
	`, jid).Scan(&a.ID, &a.JID, &a.FromMe, &a.Timestamp)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("oldest message anchor for %s: %w", jid, err)
	}
	return &a, nil
}

// ActiveWebhooks returns the tenant's enabled delivery destinations.
func (s *Postgres) ActiveWebhooks(ctx context.Context, username string) ([]model.Webhook, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, url, COALESCE(name, ''), secret
		FROM webhook
		WHERE username = $1 AND is_active
	`, username)
	if err != nil {
		return nil, fmt.Errorf("list webhooks for %s: %w", username, err)
	}
	defer rows.Close()

	var hooks []model.Webhook
	for rows.Next() {
		var w model.Webhook
		if err := rows.Scan(&w.ID, &w.URL, &w.Name, &w.Secret); err != nil {
			return nil, fmt.Errorf("scan webhook row: %w", err)
		}
		w.IsActive = true
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// ExcludedNumbers returns the tenant's exclusion set (E.164 strings).
func (s *Postgres) ExcludedNumbers(ctx context.Context, username string) ([]string, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT number FROM excluded_number WHERE username = $1`, username)
	if err != nil {
		return nil, fmt.Errorf("list exclusions for %s: %w", username, err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan exclusion row: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// BusinessInfo returns the tenant's stored business profile, or nil.
func (s *Postgres) BusinessInfo(ctx context.Context, username string) (*model.BusinessInfo, error) {
	var b model.BusinessInfo
	err := s.DB.QueryRow(ctx, `
		SELECT COALESCE(name, ''), COALESCE(about, ''), COALESCE(working_hours, ''), COALESCE(location_url, ''),
		       COALESCE(shipping_details, ''), COALESCE(instagram_url, ''), COALESCE(website_url, ''),
		       mobile_numbers, last_updated
		FROM business_info
		WHERE username = $1
	`, username).Scan(&b.Name, &b.About, &b.WorkingHours, &b.LocationURL,
		&b.ShippingDetails, &b.InstagramURL, &b.WebsiteURL,
		&b.MobileNumbers, &b.LastUpdated)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("business info for %s: %w", username, err)
	}
	return &b, nil
}

// SaveBusinessInfo upserts the tenant's business profile.
func (s *Postgres) SaveBusinessInfo(ctx context.Context, username string, info model.BusinessInfo) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO business_info
			(username, name, about, working_hours, location_url, shipping_details, instagram_url, website_url, mobile_numbers, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (username) DO UPDATE SET
			name             = EXCLUDED.name,
			about            = EXCLUDED.about,
			working_hours    = EXCLUDED.working_hours,
			location_url     = EXCLUDED.location_url,
			shipping_details = EXCLUDED.shipping_details,
			instagram_url    = EXCLUDED.instagram_url,
			website_url      = EXCLUDED.website_url,
			mobile_numbers   = EXCLUDED.mobile_numbers,
			last_updated     = now()
	`, username, info.Name, info.About, info.WorkingHours, info.LocationURL,
		info.ShippingDetails, info.InstagramURL, info.WebsiteURL, info.MobileNumbers)
	if err != nil {
		return fmt.Errorf("save business info for %s: %w", username, err)
	}
	return nil
}

// Ping verifies store reachability.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

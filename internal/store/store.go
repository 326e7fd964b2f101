package store

import (
	"context"

	"github.com/erauner12/wa-gateway/internal/model"
)

// Store is the persistent-store contract consumed by the ingestion workers,
// the tenant sessions and the HTTP surface.
//
// Write-path ordering guarantee: a message's chat row is upserted before the
// message row is inserted, so a foreign key on message.jid can never fail
// mid-batch. Message inserts are idempotent by primary key.
type Store interface {
	// Chats
	UpsertChat(ctx context.Context, c model.ChatUpsert) error
	UpsertChats(ctx context.Context, cs []model.ChatUpsert) error

	// Messages
	SaveMessage(ctx context.Context, m model.Message) error
	SaveMessagesBatch(ctx context.Context, recs []model.IngestRecord) error

	// Queries
	ListConversations(ctx context.Context, limit int, cursor string) ([]model.Chat, string, error)
	ListMessages(ctx context.Context, jid string, limit int, cursor string) ([]model.Message, string, error)
	OldestMessageAnchor(ctx context.Context, jid string) (*model.MessageAnchor, error)

	// Tenant configuration
	ActiveWebhooks(ctx context.Context, username string) ([]model.Webhook, error)
	ExcludedNumbers(ctx context.Context, username string) ([]string, error)
	BusinessInfo(ctx context.Context, username string) (*model.BusinessInfo, error)
	SaveBusinessInfo(ctx context.Context, username string, info model.BusinessInfo) error

	// Health
	Ping(ctx context.Context) error
}

package session

import (
	"context"
	"time"

	"github.com/erauner12/wa-gateway/internal/upstream"
)

// History backfill pacing. The settle wait gives the ingestion pipeline
// time to persist the messages a fetch produced, since the next anchor is
// read back from the store.
const (
	historyChatPageSize = 1000
	historyMaxPages     = 6
	historyBatchSize    = 50
	historySettleWait   = 500 * time.Millisecond
	historyChatSpacing  = 200 * time.Millisecond
)

// syncHistoryOnReconnect walks all stored conversations and backfills each
// one from upstream. Per-chat failures are logged and do not stop the walk.
func (s *Session) syncHistoryOnReconnect(ctx context.Context) {
	s.log.Info().Msg("starting history backfill")
	cursor := ""
	total := 0
	for {
		chats, next, err := s.store.ListConversations(ctx, historyChatPageSize, cursor)
		if err != nil {
			s.reportError(ctx, "history backfill: list conversations", err)
			return
		}
		for _, c := range chats {
			if err := s.syncHistoryForChat(ctx, c.JID); err != nil {
				s.log.Warn().Err(err).Str("jid", c.JID).Msg("history backfill for chat failed")
			}
			total++
			if !sleepCtx(ctx, historyChatSpacing) {
				return
			}
		}
		if next == "" || len(chats) == 0 {
			break
		}
		cursor = next
	}
	s.log.Info().Int("chats", total).Msg("history backfill finished")
}

// syncHistoryForChat requests pages of older messages for one chat, anchored
// at the oldest stored message. It stops when the anchor fails to advance
// (upstream has nothing older) or the page budget runs out.
func (s *Session) syncHistoryForChat(ctx context.Context, jid string) error {
	client, err := s.connectedClient()
	if err != nil {
		return err
	}

	for page := 0; page < historyMaxPages; page++ {
		anchor, err := s.store.OldestMessageAnchor(ctx, jid)
		if err != nil {
			return err
		}
		if anchor == nil {
			return nil
		}

		err = client.FetchMessageHistory(ctx, historyBatchSize, upstream.HistoryAnchor{
			ID:        anchor.ID,
			ChatJID:   anchor.JID,
			FromMe:    anchor.FromMe,
			Timestamp: anchor.Timestamp,
		})
		if err != nil {
			return err
		}
		if !sleepCtx(ctx, historySettleWait) {
			return ctx.Err()
		}

		after, err := s.store.OldestMessageAnchor(ctx, jid)
		if err != nil {
			return err
		}
		if after == nil || (after.ID == anchor.ID && after.Timestamp == anchor.Timestamp) {
			return nil
		}
	}
	return nil
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

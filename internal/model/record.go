package model

import (
	"fmt"
	"time"
)

// IngestRecord is the envelope written to the durable log, one JSON object
// per line. The idempotency key is the suppression domain for duplicates:
// the store ignores a second insert with the same message id.
type IngestRecord struct {
	IdempotencyKey string      `json:"idempotencyKey"`
	CorrelationID  string      `json:"correlationId"`
	ReceivedAt     int64       `json:"receivedAt"` // milliseconds since epoch
	Payload        MessageInfo `json:"payload"`
}

// NewIngestRecord wraps a normalized message for durable ingestion.
func NewIngestRecord(m MessageInfo) IngestRecord {
	cid := "cid:" + m.ID
	if m.ID == "" {
		cid = fmt.Sprintf("cid:%s:%d", m.From, m.Timestamp)
	}
	return IngestRecord{
		IdempotencyKey: "wa:" + m.ID,
		CorrelationID:  cid,
		ReceivedAt:     time.Now().UnixMilli(),
		Payload:        m,
	}
}

// Age returns how long ago the record was accepted, used by the retry
// horizon check.
func (r IngestRecord) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.ReceivedAt))
}

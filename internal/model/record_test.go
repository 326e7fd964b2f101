package model

import (
	"testing"
	"time"
)

func TestNewIngestRecord(t *testing.T) {
	m := MessageInfo{ID: "ABC", From: "1555@s.whatsapp.net", Timestamp: 1700000000}
	rec := NewIngestRecord(m)
	if rec.IdempotencyKey != "wa:ABC" {
		t.Errorf("IdempotencyKey = %q", rec.IdempotencyKey)
	}
	if rec.CorrelationID != "cid:ABC" {
		t.Errorf("CorrelationID = %q", rec.CorrelationID)
	}
	if rec.ReceivedAt == 0 {
		t.Error("ReceivedAt not stamped")
	}
	if rec.Payload.ID != "ABC" {
		t.Errorf("payload not carried: %+v", rec.Payload)
	}
}

func TestIngestRecordAge(t *testing.T) {
	rec := IngestRecord{ReceivedAt: time.Now().Add(-2 * time.Minute).UnixMilli()}
	age := rec.Age(time.Now())
	if age < 2*time.Minute-time.Second || age > 2*time.Minute+time.Second {
		t.Errorf("Age = %s, want about 2m", age)
	}
}

func TestMessageInfoValid(t *testing.T) {
	if (MessageInfo{}).Valid() {
		t.Error("zero message should be invalid")
	}
	if (MessageInfo{ID: "A"}).Valid() {
		t.Error("missing From should be invalid")
	}
	if !(MessageInfo{ID: "A", From: "1555@s.whatsapp.net"}).Valid() {
		t.Error("message with ID and From should be valid")
	}
}

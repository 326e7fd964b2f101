package ingest

import (
	"errors"
	"strings"
)

// Sentinel errors callers branch on.
var (
	ErrQueueFull   = errors.New("ingest: queue full")
	ErrQueueClosed = errors.New("ingest: queue closed")
)

// transientMarkers are substrings that classify a persistence error as
// retryable contention rather than a poison record. Longest marker first so
// log output names the most specific match.
var transientMarkers = []string{
	"database is locked",
	"busy",
	"locked",
	"timeout",
	"ioerr",
}

// IsTransient reports whether err looks like transient store contention.
// Classification is a case-insensitive substring match on the formatted
// error; wrapped causes are included in the message by convention.
func IsTransient(err error) bool {
	return transientMarker(err) != ""
}

// transientMarker returns the matched marker, or "" for non-transient errors.
func transientMarker(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return m
		}
	}
	return ""
}

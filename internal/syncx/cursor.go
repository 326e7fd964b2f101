package syncx

import (
	"encoding/base64"
	"strconv"
	"time"
)

// Cursor is an opaque pagination position: the timestamp of the last row
// returned. The next page fetches rows with a strictly smaller timestamp,
// so pagination is deterministic for descending listings.
// Format: base64url("<unix-timestamp>").
type Cursor struct {
	Ts int64
}

// Encode creates the opaque cursor string. Zero-value cursors encode as "".
func Encode(c Cursor) string {
	if c.Ts == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(c.Ts, 10)))
}

// Decode parses a cursor string. Returns a zero cursor and false for empty
// or malformed input.
func Decode(s string) (Cursor, bool) {
	if s == "" {
		return Cursor{}, false
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false
	}
	ts, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return Cursor{}, false
	}
	return Cursor{Ts: ts}, true
}

// RFC3339 converts Unix milliseconds to an RFC3339 timestamp string.
func RFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// NowMs returns the current Unix milliseconds timestamp (UTC).
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// LeadCursor encodes a timestamp + ULID for stable lead ordering
// (created_at DESC, ulid DESC).
type LeadCursor struct {
	Timestamp time.Time
	ULID      string
}

// EncodeLeadCursor encodes the cursor as base64(ts_unix_nano:ULID).
func EncodeLeadCursor(timestamp time.Time, ulid string) string {
	value := fmt.Sprintf("%d:%s", timestamp.UTC().UnixNano(), strings.ToUpper(strings.TrimSpace(ulid)))
	return base64.RawURLEncoding.EncodeToString([]byte(value))
}

// DecodeLeadCursor decodes base64(ts_unix_nano:ULID) into a LeadCursor.
func DecodeLeadCursor(cursor string) (LeadCursor, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return LeadCursor{}, ErrInvalidCursor
	}
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return LeadCursor{}, ErrInvalidCursor
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return LeadCursor{}, ErrInvalidCursor
	}
	unixNano, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return LeadCursor{}, ErrInvalidCursor
	}
	if strings.TrimSpace(parts[1]) == "" {
		return LeadCursor{}, ErrInvalidCursor
	}
	return LeadCursor{Timestamp: time.Unix(0, unixNano).UTC(), ULID: strings.ToUpper(strings.TrimSpace(parts[1]))}, nil
}

// EncodeSeqCursor encodes a BIGSERIAL sequence number for audit log paging.
func EncodeSeqCursor(sequence int64) string {
	value := fmt.Sprintf("seq_%d", sequence)
	return base64.RawURLEncoding.EncodeToString([]byte(value))
}

// DecodeSeqCursor decodes base64(seq_<number>) into a sequence number.
func DecodeSeqCursor(cursor string) (int64, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0, ErrInvalidCursor
	}
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	value := string(decoded)
	if !strings.HasPrefix(value, "seq_") {
		return 0, ErrInvalidCursor
	}
	sequence, err := strconv.ParseInt(strings.TrimPrefix(value, "seq_"), 10, 64)
	if err != nil || sequence < 0 {
		return 0, ErrInvalidCursor
	}
	return sequence, nil
}

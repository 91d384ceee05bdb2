package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cursor is an opaque keyset position over (created_at, id).
type Cursor struct {
	CreatedAt string    `json:"created_at,omitempty"`
	ID        uuid.UUID `json:"id,omitempty"`
}

// Encode serializes the cursor to a base64-encoded string.
func (c *Cursor) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// Position returns the keyset position; an empty cursor starts at the beginning.
func (c *Cursor) Position() (time.Time, uuid.UUID, error) {
	if c == nil || c.CreatedAt == "" {
		return time.Time{}, uuid.Nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, c.CreatedAt)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid created_at cursor: %w", err)
	}
	return ts, c.ID, nil
}

// DecodeCursor parses a base64-encoded cursor string.
func DecodeCursor(s string) (*Cursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c, nil
}

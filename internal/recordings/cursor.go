package recordings

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/echoguard/backend/internal/models"
)

// ErrInvalidCursor is returned when a continuation token cannot be decoded.
var ErrInvalidCursor = errors.New("invalid continuation token")

// Cursor is the keyset position of the last recording returned on a page.
// Listing order is (created_at DESC, recording_id DESC).
type Cursor struct {
	CreatedAt   time.Time `json:"c"`
	RecordingID string    `json:"r"`
}

// CursorFor returns the cursor positioned at rec.
func CursorFor(rec models.Recording) *Cursor {
	return &Cursor{CreatedAt: rec.CreatedAt, RecordingID: rec.RecordingID}
}

// Precedes reports whether rec sorts strictly after the cursor position, i.e. belongs to a later page.
func (c *Cursor) Precedes(rec models.Recording) bool {
	if rec.CreatedAt.Equal(c.CreatedAt) {
		return rec.RecordingID < c.RecordingID
	}
	return rec.CreatedAt.Before(c.CreatedAt)
}

// Encode returns the opaque continuation token for the cursor.
func (c *Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a continuation token. An empty token yields a nil cursor.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.RecordingID == "" || c.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// Page trims a result fetched with limit+1 rows down to limit and returns the cursor
// for the next page, or nil when the extra row was not present.
func Page(list []models.Recording, limit int) ([]models.Recording, *Cursor) {
	if len(list) <= limit {
		return list, nil
	}
	list = list[:limit]
	return list, CursorFor(list[len(list)-1])
}

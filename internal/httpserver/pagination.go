package httpserver

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor represents a position in a cursor-paginated result set. It encodes
// a timestamp + ID pair for stable, keyset-based pagination, shared by
// internal/listing's streaming page envelope.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// EncodeCursor serialises a cursor to a URL-safe opaque string.
func EncodeCursor(c Cursor) string {
	raw := fmt.Sprintf("%d:%s", c.CreatedAt.UnixMicro(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor string back into its components.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("decoding cursor: %w", err)
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("invalid cursor format")
	}

	usec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	if parts[1] == "" {
		return Cursor{}, fmt.Errorf("invalid cursor id")
	}

	return Cursor{
		CreatedAt: time.UnixMicro(usec).UTC(),
		ID:        parts[1],
	}, nil
}

// Package pagination implements the opaque cursor tokens used by list
// endpoints. A token wraps the Firestore StartAfter values of the last
// document on the previous page, so clients can resume a query without
// the server keeping any per-client state.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPageToken reports a page token that cannot be decoded. Handlers
// map it to a 400 so a corrupted or truncated token never reads as a server
// fault.
var ErrInvalidPageToken = errors.New("pagination: invalid pageToken")

// Cursor carries the resume position for a Firestore query.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// EncodeToken serialises the cursor into a base64 URL-safe page token.
// An empty cursor encodes to the empty string, meaning no further pages.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 && len(cursor.StartAt) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken back into a cursor.
// The empty string decodes to the zero cursor, i.e. start from the top.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}

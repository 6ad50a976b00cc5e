// Package pagination implements keyset paging over id-descending listings.
// Cursors are opaque to clients and bound to the listing that issued them.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

const cursorVersion = "v1"

// Params is a page request as received from a controller.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor marks where the previous page stopped. The next page holds rows
// with id strictly below BeforeID within the same Scope.
type Cursor struct {
	Scope    string
	BeforeID int64
}

// NormalizeLimit clamps limit into [1, MaxLimit], defaulting to DefaultLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func EncodeCursor(c Cursor) string {
	raw := strings.Join([]string{cursorVersion, c.Scope, strconv.FormatInt(c.BeforeID, 10)}, "|")
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor returns the BeforeID carried by value, or 0 for the first page.
// A cursor minted for a different scope is rejected.
func ParseCursor(value, scope string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.Split(string(decoded), "|")
	if len(parts) != 3 || parts[0] != cursorVersion {
		return 0, errors.New("unrecognised cursor")
	}
	if parts[1] != scope {
		return 0, errors.New("cursor belongs to another listing")
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid cursor position")
	}
	return id, nil
}

// Window trims rows fetched with limit+1 down to limit and, when the extra
// row proved another page exists, returns the cursor for it.
func Window[T any](rows []T, limit int, scope string, idOf func(T) int64) ([]T, string) {
	if limit <= 0 || len(rows) <= limit {
		return rows, ""
	}
	page := rows[:limit]
	return page, EncodeCursor(Cursor{Scope: scope, BeforeID: idOf(page[limit-1])})
}

package taskstore

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursors encode the (created_at, id) position of the last row served, so a
// page restarts correctly even when rows before it were deleted meanwhile.

func encodeCursor(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", badCursorError{cursor: cursor}
	}
	nano, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return 0, "", badCursorError{cursor: cursor}
	}
	n, err := strconv.ParseInt(nano, 10, 64)
	if err != nil {
		return 0, "", badCursorError{cursor: cursor}
	}
	return n, id, nil
}

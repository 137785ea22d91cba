package db

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UniqueViolation reports a duplicate key error of either driver and returns the key name.
func UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return ExtractDuplicateKeyName(myErr.Message), true
	}
	const sqliteMarker = "UNIQUE constraint failed: "
	msg := err.Error()
	if idx := strings.Index(msg, sqliteMarker); idx >= 0 {
		rest := msg[idx+len(sqliteMarker):]
		if end := strings.IndexAny(rest, " )"); end >= 0 {
			rest = rest[:end]
		}
		return rest, true
	}
	return "", false
}

// ExtractDuplicateKeyName parses duplicate key name from MySQL error message.
func ExtractDuplicateKeyName(message string) string {
	if message == "" {
		return ""
	}
	const marker = "for key "
	idx := strings.LastIndex(message, marker)
	if idx == -1 {
		return ""
	}
	key := strings.TrimSpace(message[idx+len(marker):])
	return strings.Trim(key, " `\"'")
}

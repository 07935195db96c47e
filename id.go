package clonechat

import (
	"time"

	"github.com/google/uuid"
)

// NewRunID generates a time-sortable UUIDv7 (RFC 9562) string identifier.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns the current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

package core

import (
	"fmt"
	"time"
)

// PresenceStatus is a user's engagement level in a terminal session.
type PresenceStatus string

const (
	PresenceActive   PresenceStatus = "active"
	PresenceViewing  PresenceStatus = "viewing"
	PresenceInactive PresenceStatus = "inactive"
)

// Presence timing constants.
const (
	// ActiveWindow is how long after the last interaction a user counts as active.
	ActiveWindow = 30 * time.Second
	// ViewingWindow is how long after the last interaction a user counts as viewing.
	ViewingWindow = 120 * time.Second
	// HeartbeatInterval is the client heartbeat cadence.
	HeartbeatInterval = 15 * time.Second
	// PresenceStaleAfter is the age past which a presence record is purged.
	PresenceStaleAfter = 5 * time.Minute
)

// Valid reports whether s is a known status.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceActive, PresenceViewing, PresenceInactive:
		return true
	}
	return false
}

// ParsePresenceStatus validates a wire status value.
func ParsePresenceStatus(s string) (PresenceStatus, error) {
	status := PresenceStatus(s)
	if !status.Valid() {
		return "", ErrValidation(CodeInvalidStatus,
			fmt.Sprintf("status must be one of: active, viewing, inactive (got %q)", s))
	}
	return status, nil
}

// PresenceRecord is the single liveness row kept per user.
type PresenceRecord struct {
	UserID    string
	SessionID string
	Status    PresenceStatus
	LastSeen  time.Time
}

// PresenceUser holds the display fields joined onto presence entries.
type PresenceUser struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Image          string `json:"image"`
	AvatarImageURL string `json:"avatarImageUrl"`
}

// PresenceEntry is a presence record as returned to viewers.
type PresenceEntry struct {
	UserID    string         `json:"userId"`
	SessionID string         `json:"sessionId"`
	Status    PresenceStatus `json:"status"`
	User      PresenceUser   `json:"user"`
}

// StaleCutoff returns the instant before which presence records are stale.
func StaleCutoff(now time.Time) time.Time {
	return now.Add(-PresenceStaleAfter)
}

package events

// Event type constants for presence events.
const (
	TypePresenceChanged = "presence_changed"
)

// PresenceChangedEvent is emitted when a user heartbeats, moves to another
// session or leaves. Status is empty on leave.
type PresenceChangedEvent struct {
	BaseEvent
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId"`
	Status    string `json:"status,omitempty"`
}

// NewPresenceChangedEvent creates a new presence changed event.
func NewPresenceChangedEvent(projectID, sessionID, userID, status string) PresenceChangedEvent {
	return PresenceChangedEvent{
		BaseEvent: NewBaseEvent(TypePresenceChanged, projectID),
		SessionID: sessionID,
		UserID:    userID,
		Status:    status,
	}
}

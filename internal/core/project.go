package core

import "time"

// User is an authenticated operator of the dashboard.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Image          string    `json:"image"`
	AvatarImageURL string    `json:"avatarImageUrl"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Project groups terminal sessions and tasks.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is a terminal session inside a project.
type Session struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

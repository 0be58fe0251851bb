package notification

import "time"

type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
}

type Page struct {
	Notifications []Notification `json:"notifications"`
	CurrentPage   int            `json:"current_page"`
	TotalCount    int            `json:"total_count"`
	UnreadCount   int            `json:"unread_count"`
}

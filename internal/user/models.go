package user

import "time"

type User struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Points      int         `json:"points"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Preferences mirrors the profile store's per-user settings. PrivacyLevel
// "admin" grants cross-user history access.
type Preferences struct {
	Notifications   bool   `json:"notifications"`
	LocationSharing bool   `json:"location_sharing"`
	PrivacyLevel    string `json:"privacy_level"`
}

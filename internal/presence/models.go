package presence

import "time"

// Location is a user's most recently reported position and motion state.
// Exactly one live Location exists per user with at least one active
// session; it is shared by all of that user's sessions.
type Location struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	BusName     string    `json:"bus_name"`
	BusType     string    `json:"bus_type"`
	Speed       float64   `json:"speed"`
	Timestamp   time.Time `json:"timestamp"`
	LastUpdated time.Time `json:"last_updated"`
}

// Session is one live connection bound to a user. UserName is a snapshot
// taken at join time and is never refreshed; Points is refreshed on each
// award.
type Session struct {
	ConnID       string    `json:"conn_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	Points       int       `json:"points"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Sharing      bool      `json:"sharing_location"`
}

// ProximityResult is computed on demand and never stored.
type ProximityResult struct {
	UserID     string   `json:"user_id"`
	UserName   string   `json:"user_name"`
	Location   Location `json:"location"`
	DistanceKm float64  `json:"distance"`
	ETAMinutes *int     `json:"eta,omitempty"`
}

// TrackPoint is one entry in the bounded in-memory track buffer kept per
// active share.
type TrackPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

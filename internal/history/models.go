package history

import "time"

// History is one persisted sharing stint: summary totals plus the route
// actually driven. The full point sequence lives in Postgres; the core
// only keeps a bounded working copy.
type History struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	BusName        string    `json:"bus_name"`
	BusType        string    `json:"bus_type"`
	TotalDistanceM float64   `json:"total_distance_m"`
	AvgSpeedMS     float64   `json:"avg_speed_mps"`
	DurationMin    int       `json:"duration_min"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

type Point struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedMS    float64   `json:"speed_mps"`
	RecordedAt time.Time `json:"recorded_at"`
	BusName    string    `json:"bus_name,omitempty"`
	BusType    string    `json:"bus_type,omitempty"`
}

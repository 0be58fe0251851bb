package vehicle

import (
	"time"

	"github.com/yasuo72/TransitShare/internal/shared/geo"
)

// Vehicle carries the last known location, an average speed estimate, and
// the set of users currently reporting for it.
type Vehicle struct {
	ID            string     `json:"id"`
	VehicleID     string     `json:"vehicle_id"`
	RouteID       string     `json:"route_id"`
	AvgSpeedMS    float64    `json:"avg_speed"`
	LastKnown     *geo.Point `json:"last_known_location,omitempty"`
	LastUpdated   time.Time  `json:"last_updated,omitempty"`
	ActiveSharers []string   `json:"active_sharers"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ShareSession is one user's reporting stint for a vehicle. Points are
// awarded at stop time, one per started minute.
type ShareSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	VehicleID string    `json:"vehicle_id"`
	RouteID   string    `json:"route_id"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
}

// CurrentLocation is the answer to "where is this vehicle now": live data
// when fresh, a route prediction otherwise.
type CurrentLocation struct {
	Source     string    `json:"source"`
	Location   geo.Point `json:"location"`
	Timestamp  time.Time `json:"ts,omitempty"`
	ETASeconds *int      `json:"eta_seconds,omitempty"`
}

package realtime

import (
	"encoding/json"
	"time"

	"github.com/yasuo72/TransitShare/internal/user"
)

// Inbound intent types.
const (
	IntentJoin              = "join"
	IntentReportLocation    = "report_location"
	IntentRequestNearby     = "request_nearby"
	IntentRequestHistory    = "request_history"
	IntentUpdatePreferences = "update_preferences"
	IntentDisconnect        = "disconnect"
)

// Outbound event names.
const (
	EventJoined             = "joined"
	EventUserOnline         = "user_online"
	EventUserOffline        = "user_offline"
	EventOnlineCount        = "online_count"
	EventLocationUpdate     = "location_update"
	EventProximityAlert     = "proximity_alert"
	EventNearbyUpdate       = "nearby_update"
	EventHistoryUpdate      = "history_update"
	EventPreferencesUpdated = "preferences_updated"
	EventError              = "error"
)

// Intent is the inbound wire envelope.
type Intent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JoinPayload struct {
	UserID string `json:"user_id"`
}

type ReportLocationPayload struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	BusName   string    `json:"bus_name"`
	BusType   string    `json:"bus_type"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
	VehicleID string    `json:"vehicle_id"`
}

type RequestNearbyPayload struct {
	RadiusKm float64 `json:"radius_km"`
}

type RequestHistoryPayload struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

type UpdatePreferencesPayload struct {
	Preferences user.Preferences `json:"preferences"`
}

// Scope says who an emission reaches.
type Scope int

const (
	// ScopeBroadcast reaches every connection, minus an optional exclusion.
	ScopeBroadcast Scope = iota
	// ScopeTargeted reaches exactly one connection.
	ScopeTargeted
)

// Emission is one outbound message produced by dispatching an intent.
// Dispatch returns emissions instead of writing to the transport so the
// intent -> (state, emissions) mapping is testable without a socket.
type Emission struct {
	Scope   Scope
	ConnID  string
	Exclude string
	Event   string
	Data    any
}

func broadcast(event string, data any, exclude string) Emission {
	return Emission{Scope: ScopeBroadcast, Event: event, Data: data, Exclude: exclude}
}

func targeted(connID, event string, data any) Emission {
	return Emission{Scope: ScopeTargeted, ConnID: connID, Event: event, Data: data}
}

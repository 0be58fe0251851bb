package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/yasuo72/TransitShare/internal/history"
	"github.com/yasuo72/TransitShare/internal/notification"
	"github.com/yasuo72/TransitShare/internal/presence"
	"github.com/yasuo72/TransitShare/internal/user"
	"github.com/yasuo72/TransitShare/internal/vehicle"
)

var (
	// ErrInvalidSession means an intent was issued without a valid prior
	// join, or with a session/user mismatch.
	ErrInvalidSession = errors.New("invalid session")
	// ErrUnauthorized means cross-user data access without privilege.
	ErrUnauthorized = errors.New("unauthorized")
)

// Ledger is the external identity/ledger surface the broadcaster writes to.
type Ledger interface {
	IncrementPoints(ctx context.Context, id string, delta int) (int, error)
	SavePreferences(ctx context.Context, id string, prefs user.Preferences) error
}

// VehicleWriter writes a vehicle's last known location back on each report.
type VehicleWriter interface {
	SubmitLocation(ctx context.Context, vehicleID string, lat, lng, speedMS float64) (vehicle.Vehicle, error)
}

// Histories is the external location-history surface.
type Histories interface {
	Append(ctx context.Context, userID string, p history.Point) error
	Histories(ctx context.Context, userID string, limit int) ([]history.History, error)
	CloseActive(ctx context.Context, userID string) error
}

// Notifier persists proximity notifications.
type Notifier interface {
	InsertBatch(ctx context.Context, notifications []notification.Notification) error
}

type Config struct {
	NearbyRadiusKm float64
	AlertRadiusKm  float64
	ReportPoints   int
}

// Broadcaster validates every inbound intent against the session registry,
// applies its state effects, and produces the outbound emissions. One
// instance is shared by all connections; per-connection ordering comes
// from each connection's single read loop.
type Broadcaster struct {
	registry      *presence.Registry
	proximity     *presence.Engine
	ledger        Ledger
	vehicles      VehicleWriter
	histories     Histories
	notifications Notifier
	cfg           Config
}

func NewBroadcaster(registry *presence.Registry, proximity *presence.Engine, ledger Ledger, vehicles VehicleWriter, histories Histories, notifications Notifier, cfg Config) *Broadcaster {
	if cfg.NearbyRadiusKm <= 0 {
		cfg.NearbyRadiusKm = 10
	}
	if cfg.AlertRadiusKm <= 0 {
		cfg.AlertRadiusKm = 2
	}
	if cfg.ReportPoints <= 0 {
		cfg.ReportPoints = 5
	}
	return &Broadcaster{
		registry:      registry,
		proximity:     proximity,
		ledger:        ledger,
		vehicles:      vehicles,
		histories:     histories,
		notifications: notifications,
		cfg:           cfg,
	}
}

// Dispatch maps one inbound intent to its state effects and emissions.
// Validation failures yield only a private error emission to the
// originating connection, never a broadcast, and apply no state.
func (b *Broadcaster) Dispatch(ctx context.Context, connID string, raw []byte) []Emission {
	var intent Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return []Emission{errorEmission(connID, "malformed intent")}
	}

	switch intent.Type {
	case IntentJoin:
		return b.join(ctx, connID, intent.Data)
	case IntentReportLocation:
		return b.reportLocation(ctx, connID, intent.Data)
	case IntentRequestNearby:
		return b.requestNearby(connID, intent.Data)
	case IntentRequestHistory:
		return b.requestHistory(ctx, connID, intent.Data)
	case IntentUpdatePreferences:
		return b.updatePreferences(ctx, connID, intent.Data)
	case IntentDisconnect:
		return b.Disconnect(ctx, connID)
	default:
		return []Emission{errorEmission(connID, "unknown intent type")}
	}
}

func (b *Broadcaster) join(ctx context.Context, connID string, data json.RawMessage) []Emission {
	var payload JoinPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.UserID == "" {
		return []Emission{errorEmission(connID, "user_id required")}
	}

	sess, err := b.registry.Join(ctx, connID, payload.UserID)
	if errors.Is(err, user.ErrNotFound) {
		return []Emission{errorEmission(connID, "user not found")}
	}
	if err != nil {
		log.Printf("join: user lookup failed: %v", err)
		return []Emission{errorEmission(connID, "user lookup failed")}
	}

	return []Emission{
		targeted(connID, EventJoined, sess),
		broadcast(EventUserOnline, map[string]any{
			"user_id":   sess.UserID,
			"user_name": sess.UserName,
		}, ""),
		b.onlineCount(),
	}
}

func (b *Broadcaster) reportLocation(ctx context.Context, connID string, data json.RawMessage) []Emission {
	sess, ok := b.registry.Get(connID)
	if !ok {
		return []Emission{errorEmission(connID, ErrInvalidSession.Error())}
	}

	var payload ReportLocationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return []Emission{errorEmission(connID, "malformed location")}
	}

	stored, credit := b.registry.Locations().Report(sess.UserID, presence.Location{
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
		BusName:   payload.BusName,
		BusType:   payload.BusType,
		Speed:     payload.Speed,
		Timestamp: payload.Timestamp,
	})
	b.registry.MarkSharing(sess.UserID)

	// External effects run outside the registry lock; failures are logged
	// and bounded, they never roll back the accepted report.
	if payload.VehicleID != "" && b.vehicles != nil {
		if _, err := b.vehicles.SubmitLocation(ctx, payload.VehicleID, payload.Latitude, payload.Longitude, payload.Speed); err != nil {
			log.Printf("report: vehicle location write failed: %v", err)
		}
	}
	if credit && b.ledger != nil {
		if total, err := b.ledger.IncrementPoints(ctx, sess.UserID, b.cfg.ReportPoints); err != nil {
			log.Printf("report: points award failed: %v", err)
		} else {
			b.registry.SetPoints(sess.UserID, total)
		}
	}
	if b.histories != nil {
		err := b.histories.Append(ctx, sess.UserID, history.Point{
			Lat:        stored.Latitude,
			Lng:        stored.Longitude,
			SpeedMS:    stored.Speed,
			RecordedAt: stored.Timestamp,
			BusName:    stored.BusName,
			BusType:    stored.BusType,
		})
		if err != nil {
			log.Printf("report: history append failed: %v", err)
		}
	}

	nearby := b.proximity.Nearby(sess.UserID, b.cfg.NearbyRadiusKm)

	emissions := []Emission{
		broadcast(EventLocationUpdate, map[string]any{
			"user_id":   sess.UserID,
			"user_name": sess.UserName,
			"location":  stored,
			"nearby":    nearby,
		}, connID),
	}

	candidates := b.proximity.AlertCandidates(nearby, b.cfg.AlertRadiusKm)
	var rows []notification.Notification
	for _, cand := range candidates {
		for _, target := range b.registry.SessionsFor(cand.UserID) {
			emissions = append(emissions, targeted(target.ConnID, EventProximityAlert, map[string]any{
				"user_id":   sess.UserID,
				"user_name": sess.UserName,
				"bus_name":  stored.BusName,
				"location":  stored,
				"distance":  cand.DistanceKm,
				"eta":       cand.ETAMinutes,
			}))
		}
		rows = append(rows, notification.Notification{
			UserID:  cand.UserID,
			Type:    "location_sharing",
			Title:   stored.BusName + " is approaching",
			Message: sess.UserName + " is sharing the location of " + stored.BusName,
			Data: map[string]any{
				"sender_id":   sess.UserID,
				"sender_name": sess.UserName,
				"bus_name":    stored.BusName,
				"latitude":    stored.Latitude,
				"longitude":   stored.Longitude,
			},
		})
	}
	if len(rows) > 0 && b.notifications != nil {
		if err := b.notifications.InsertBatch(ctx, rows); err != nil {
			log.Printf("report: notification insert failed: %v", err)
		}
	}
	return emissions
}

func (b *Broadcaster) requestNearby(connID string, data json.RawMessage) []Emission {
	sess, ok := b.registry.Get(connID)
	if !ok {
		return []Emission{errorEmission(connID, ErrInvalidSession.Error())}
	}

	var payload RequestNearbyPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return []Emission{errorEmission(connID, "malformed request")}
		}
	}
	radius := payload.RadiusKm
	if radius <= 0 {
		radius = b.cfg.NearbyRadiusKm
	}

	return []Emission{
		targeted(connID, EventNearbyUpdate, map[string]any{
			"nearby": b.proximity.Nearby(sess.UserID, radius),
		}),
	}
}

func (b *Broadcaster) requestHistory(ctx context.Context, connID string, data json.RawMessage) []Emission {
	sess, ok := b.registry.Get(connID)
	if !ok {
		return []Emission{errorEmission(connID, ErrInvalidSession.Error())}
	}

	var payload RequestHistoryPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return []Emission{errorEmission(connID, "malformed request")}
		}
	}
	target := payload.UserID
	if target == "" {
		target = sess.UserID
	}
	if target != sess.UserID {
		prefs, _ := b.registry.PreferencesFor(sess.UserID)
		if prefs.PrivacyLevel != "admin" {
			return []Emission{errorEmission(connID, ErrUnauthorized.Error())}
		}
	}

	histories, err := b.histories.Histories(ctx, target, payload.Limit)
	if err != nil {
		log.Printf("history: query failed: %v", err)
		return []Emission{errorEmission(connID, "history unavailable")}
	}
	return []Emission{
		targeted(connID, EventHistoryUpdate, map[string]any{
			"user_id":   target,
			"histories": histories,
		}),
	}
}

func (b *Broadcaster) updatePreferences(ctx context.Context, connID string, data json.RawMessage) []Emission {
	sess, ok := b.registry.Get(connID)
	if !ok {
		return []Emission{errorEmission(connID, ErrInvalidSession.Error())}
	}

	var payload UpdatePreferencesPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return []Emission{errorEmission(connID, "malformed preferences")}
	}

	// External write first; the cache only reflects committed preferences.
	if err := b.ledger.SavePreferences(ctx, sess.UserID, payload.Preferences); err != nil {
		log.Printf("preferences: external write failed: %v", err)
		return []Emission{errorEmission(connID, "preferences update failed")}
	}
	b.registry.SetPreferences(sess.UserID, payload.Preferences)

	return []Emission{
		targeted(connID, EventPreferencesUpdated, map[string]any{
			"preferences": payload.Preferences,
		}),
	}
}

// Disconnect removes the session and purges the user's working state when
// it was their last connection. Safe to call more than once per
// connection; repeats emit nothing.
func (b *Broadcaster) Disconnect(ctx context.Context, connID string) []Emission {
	sess, lastConn, ok := b.registry.Leave(connID)
	if !ok {
		return nil
	}

	emissions := []Emission{}
	if lastConn {
		if b.histories != nil && sess.Sharing {
			if err := b.histories.CloseActive(ctx, sess.UserID); err != nil {
				log.Printf("disconnect: history close failed: %v", err)
			}
		}
		emissions = append(emissions, broadcast(EventUserOffline, map[string]any{
			"user_id":   sess.UserID,
			"user_name": sess.UserName,
		}, ""))
	}
	return append(emissions, b.onlineCount())
}

func (b *Broadcaster) onlineCount() Emission {
	return broadcast(EventOnlineCount, map[string]any{
		"count": b.registry.OnlineUserCount(),
	}, "")
}

func errorEmission(connID, msg string) Emission {
	return targeted(connID, EventError, map[string]any{"message": msg})
}

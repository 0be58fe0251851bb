package vehicle

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/yasuo72/TransitShare/internal/db"
	"github.com/yasuo72/TransitShare/internal/predict"
	"github.com/yasuo72/TransitShare/internal/shared/geo"
	"github.com/yasuo72/TransitShare/internal/user"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound        = errors.New("vehicle not found")
	ErrSessionNotFound = errors.New("share session not found")
)

// Ledger is the slice of the external identity store share sessions need.
type Ledger interface {
	Lookup(ctx context.Context, id string) (user.User, error)
	IncrementPoints(ctx context.Context, id string, delta int) (int, error)
}

// Predictor estimates a vehicle position when live data is stale.
type Predictor interface {
	Predict(ctx context.Context, v predict.Vehicle) (predict.Prediction, error)
}

// Publisher fans a named event out to every connected client.
type Publisher interface {
	BroadcastEvent(event string, data any)
}

type Service struct {
	db         db.Querier
	ledger     Ledger
	predictor  Predictor
	hub        Publisher
	liveWindow time.Duration
}

func NewService(db db.Querier, ledger Ledger, predictor Predictor, hub Publisher, liveWindow time.Duration) *Service {
	if liveWindow <= 0 {
		liveWindow = 20 * time.Second
	}
	return &Service{db: db, ledger: ledger, predictor: predictor, hub: hub, liveWindow: liveWindow}
}

func (s *Service) Register(ctx context.Context, vehicleID, routeID string) (Vehicle, error) {
	v := Vehicle{
		ID:            uuid.NewString(),
		VehicleID:     vehicleID,
		RouteID:       routeID,
		ActiveSharers: []string{},
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO vehicles (id, vehicle_id, route_id, active_sharers)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (vehicle_id) DO UPDATE SET route_id=EXCLUDED.route_id
		RETURNING id, created_at
	`, v.ID, v.VehicleID, v.RouteID, v.ActiveSharers)
	if err := row.Scan(&v.ID, &v.CreatedAt); err != nil {
		return Vehicle{}, err
	}
	return v, nil
}

func (s *Service) Get(ctx context.Context, vehicleID string) (Vehicle, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, vehicle_id, route_id, COALESCE(avg_speed_ms,0), last_lat, last_lng,
		       COALESCE(last_updated, 'epoch'::timestamptz), active_sharers, created_at
		FROM vehicles WHERE vehicle_id=$1
	`, vehicleID)

	var v Vehicle
	var lat, lng *float64
	err := row.Scan(&v.ID, &v.VehicleID, &v.RouteID, &v.AvgSpeedMS, &lat, &lng, &v.LastUpdated, &v.ActiveSharers, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vehicle{}, ErrNotFound
	}
	if err != nil {
		return Vehicle{}, err
	}
	if lat != nil && lng != nil {
		v.LastKnown = &geo.Point{Lat: *lat, Lng: *lng}
	}
	return v, nil
}

func (s *Service) List(ctx context.Context) ([]Vehicle, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, vehicle_id, route_id, COALESCE(avg_speed_ms,0), active_sharers, created_at
		FROM vehicles ORDER BY vehicle_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []Vehicle
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(&v.ID, &v.VehicleID, &v.RouteID, &v.AvgSpeedMS, &v.ActiveSharers, &v.CreatedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, nil
}

// SubmitLocation writes the last known location back on each report and,
// when a speed is reported, refreshes the average speed estimate. The
// update is broadcast to all connected clients.
func (s *Service) SubmitLocation(ctx context.Context, vehicleID string, lat, lng, speedMS float64) (Vehicle, error) {
	now := time.Now()
	row := s.db.QueryRow(ctx, `
		UPDATE vehicles
		SET last_lat=$2, last_lng=$3, last_updated=$4,
		    avg_speed_ms = CASE WHEN $5 > 0 THEN $5 ELSE avg_speed_ms END
		WHERE vehicle_id=$1
		RETURNING id, route_id, COALESCE(avg_speed_ms,0), active_sharers
	`, vehicleID, lat, lng, now, speedMS)

	v := Vehicle{VehicleID: vehicleID, LastKnown: &geo.Point{Lat: lat, Lng: lng}, LastUpdated: now}
	err := row.Scan(&v.ID, &v.RouteID, &v.AvgSpeedMS, &v.ActiveSharers)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vehicle{}, ErrNotFound
	}
	if err != nil {
		return Vehicle{}, err
	}

	if s.hub != nil {
		s.hub.BroadcastEvent("vehicle_location", map[string]any{
			"vehicle_id": vehicleID,
			"lat":        lat,
			"lng":        lng,
			"ts":         now,
		})
	}
	return v, nil
}

// CurrentLocation applies the liveness policy: live data is authoritative
// only when at least one active sharer exists and the last update is
// within the live window; otherwise the route prediction is used.
func (s *Service) CurrentLocation(ctx context.Context, vehicleID string) (CurrentLocation, error) {
	v, err := s.Get(ctx, vehicleID)
	if err != nil {
		return CurrentLocation{}, err
	}

	if len(v.ActiveSharers) > 0 && v.LastKnown != nil && time.Since(v.LastUpdated) < s.liveWindow {
		return CurrentLocation{
			Source:    "live",
			Location:  *v.LastKnown,
			Timestamp: v.LastUpdated,
		}, nil
	}

	pred, err := s.predictor.Predict(ctx, predict.Vehicle{
		RouteID:    v.RouteID,
		LastKnown:  v.LastKnown,
		AvgSpeedMS: v.AvgSpeedMS,
	})
	if err != nil {
		return CurrentLocation{}, err
	}
	eta := pred.ETASeconds
	return CurrentLocation{
		Source:     "predicted",
		Location:   pred.Location,
		ETASeconds: &eta,
	}, nil
}

// StartShare verifies the user, upserts the vehicle, registers the sharer,
// and opens a share session.
func (s *Service) StartShare(ctx context.Context, userID, vehicleID, routeID string) (ShareSession, error) {
	if _, err := s.ledger.Lookup(ctx, userID); err != nil {
		return ShareSession{}, err
	}

	if _, err := s.Register(ctx, vehicleID, routeID); err != nil {
		return ShareSession{}, err
	}

	_, err := s.db.Exec(ctx, `
		UPDATE vehicles
		SET active_sharers = array_append(active_sharers, $2)
		WHERE vehicle_id=$1 AND NOT ($2 = ANY(active_sharers))
	`, vehicleID, userID)
	if err != nil {
		return ShareSession{}, err
	}

	sess := ShareSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		VehicleID: vehicleID,
		RouteID:   routeID,
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO share_sessions (id, user_id, vehicle_id, route_id)
		VALUES ($1,$2,$3,$4)
		RETURNING started_at
	`, sess.ID, sess.UserID, sess.VehicleID, sess.RouteID)
	if err := row.Scan(&sess.StartedAt); err != nil {
		return ShareSession{}, err
	}
	return sess, nil
}

// StopShare closes the session, removes the sharer from the vehicle, and
// awards one point per started minute of sharing.
func (s *Service) StopShare(ctx context.Context, sessionID string) (int, error) {
	now := time.Now()
	row := s.db.QueryRow(ctx, `
		UPDATE share_sessions SET stopped_at=$2
		WHERE id=$1 AND stopped_at IS NULL
		RETURNING user_id, vehicle_id, started_at
	`, sessionID, now)

	var userID, vehicleID string
	var startedAt time.Time
	err := row.Scan(&userID, &vehicleID, &startedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, err
	}

	_, err = s.db.Exec(ctx, `
		UPDATE vehicles
		SET active_sharers = array_remove(active_sharers, $2)
		WHERE vehicle_id=$1
	`, vehicleID, userID)
	if err != nil {
		return 0, err
	}

	points := int(math.Ceil(now.Sub(startedAt).Minutes()))
	if points < 1 {
		points = 1
	}
	if _, err := s.ledger.IncrementPoints(ctx, userID, points); err != nil {
		return 0, err
	}
	return points, nil
}

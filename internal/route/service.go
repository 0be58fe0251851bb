package route

import (
	"context"
	"errors"

	"github.com/yasuo72/TransitShare/internal/db"
	"github.com/yasuo72/TransitShare/internal/shared/geo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when no route exists for a route identifier.
var ErrNotFound = errors.New("route not found")

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Route, error) {
	r := Route{
		ID:      uuid.NewString(),
		RouteID: req.RouteID,
		Path:    req.Path,
		Stops:   req.Stops,
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO routes (id, route_id)
		VALUES ($1,$2)
		RETURNING created_at
	`, r.ID, r.RouteID)
	if err := row.Scan(&r.CreatedAt); err != nil {
		return Route{}, err
	}

	for i, p := range r.Path {
		_, err := s.db.Exec(ctx, `
			INSERT INTO route_points (route_id, seq, location)
			VALUES ($1,$2, ST_SetSRID(ST_MakePoint($3,$4), 4326)::geography)
		`, r.ID, i, p.Lng, p.Lat)
		if err != nil {
			return Route{}, err
		}
	}
	for i, st := range r.Stops {
		_, err := s.db.Exec(ctx, `
			INSERT INTO route_stops (route_id, seq, name, location)
			VALUES ($1,$2,$3, ST_SetSRID(ST_MakePoint($4,$5), 4326)::geography)
		`, r.ID, i, st.Name, st.Lng, st.Lat)
		if err != nil {
			return Route{}, err
		}
	}
	return r, nil
}

// Get returns the route identified by its external route identifier, with
// the polyline ordered by sequence.
func (s *Service) Get(ctx context.Context, routeID string) (Route, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, route_id, created_at FROM routes WHERE route_id=$1
	`, routeID)

	var r Route
	err := row.Scan(&r.ID, &r.RouteID, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Route{}, ErrNotFound
	}
	if err != nil {
		return Route{}, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT ST_Y(location::geometry), ST_X(location::geometry)
		FROM route_points WHERE route_id=$1 ORDER BY seq
	`, r.ID)
	if err != nil {
		return Route{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p geo.Point
		if err := rows.Scan(&p.Lat, &p.Lng); err != nil {
			return Route{}, err
		}
		r.Path = append(r.Path, p)
	}
	rows.Close()

	stopRows, err := s.db.Query(ctx, `
		SELECT name, ST_Y(location::geometry), ST_X(location::geometry)
		FROM route_stops WHERE route_id=$1 ORDER BY seq
	`, r.ID)
	if err != nil {
		return Route{}, err
	}
	defer stopRows.Close()
	for stopRows.Next() {
		var st Stop
		if err := stopRows.Scan(&st.Name, &st.Lat, &st.Lng); err != nil {
			return Route{}, err
		}
		r.Stops = append(r.Stops, st)
	}
	return r, nil
}

func (s *Service) List(ctx context.Context) ([]Route, error) {
	rows, err := s.db.Query(ctx, `SELECT id, route_id, created_at FROM routes ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []Route
	for rows.Next() {
		var r Route
		if err := rows.Scan(&r.ID, &r.RouteID, &r.CreatedAt); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, nil
}

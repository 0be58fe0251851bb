package history

import (
	"context"
	"errors"
	"time"

	"github.com/yasuo72/TransitShare/internal/db"
	"github.com/yasuo72/TransitShare/internal/shared/geo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Append adds one point to the user's active history, opening a new one if
// none is active, and folds the distance delta into the running totals.
func (s *Service) Append(ctx context.Context, userID string, p Point) error {
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now()
	}
	if p.BusType == "" {
		p.BusType = "regular"
	}

	var historyID string
	err := s.db.QueryRow(ctx, `
		SELECT id FROM location_histories
		WHERE user_id=$1 AND is_active
		ORDER BY created_at DESC LIMIT 1
	`, userID).Scan(&historyID)
	if errors.Is(err, pgx.ErrNoRows) {
		historyID = uuid.NewString()
		_, err = s.db.Exec(ctx, `
			INSERT INTO location_histories (id, user_id, bus_name, bus_type, is_active)
			VALUES ($1,$2,$3,$4,true)
		`, historyID, userID, p.BusName, p.BusType)
	}
	if err != nil {
		return err
	}

	var lastLat, lastLng float64
	havePrev := true
	err = s.db.QueryRow(ctx, `
		SELECT ST_Y(location::geometry), ST_X(location::geometry)
		FROM location_history_points
		WHERE history_id=$1
		ORDER BY recorded_at DESC LIMIT 1
	`, historyID).Scan(&lastLat, &lastLng)
	if errors.Is(err, pgx.ErrNoRows) {
		havePrev = false
	} else if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO location_history_points (history_id, location, speed_mps, recorded_at)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4, $5)
	`, historyID, p.Lng, p.Lat, p.SpeedMS, p.RecordedAt)
	if err != nil {
		return err
	}

	if havePrev {
		deltaM := geo.HaversineKm(lastLat, lastLng, p.Lat, p.Lng) * 1000
		_, err = s.db.Exec(ctx, `
			UPDATE location_histories
			SET total_distance_m = COALESCE(total_distance_m,0) + $2
			WHERE id=$1
		`, historyID, deltaM)
		if err != nil {
			return err
		}
	}
	return nil
}

// CloseActive ends the user's active history, fixing duration and average
// speed. Called when the user's last session disconnects.
func (s *Service) CloseActive(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE location_histories
		SET ended_at = now(),
		    is_active = false,
		    duration_min = CEIL(EXTRACT(EPOCH FROM (now() - started_at)) / 60),
		    avg_speed_mps = CASE
		        WHEN EXTRACT(EPOCH FROM (now() - started_at)) > 0
		        THEN COALESCE(total_distance_m,0) / EXTRACT(EPOCH FROM (now() - started_at))
		        ELSE 0
		    END
		WHERE user_id=$1 AND is_active
	`, userID)
	return err
}

// Histories returns the user's most recent histories, newest first.
func (s *Service) Histories(ctx context.Context, userID string, limit int) ([]History, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, bus_name, bus_type, COALESCE(total_distance_m,0),
		       COALESCE(avg_speed_mps,0), COALESCE(duration_min,0),
		       started_at, COALESCE(ended_at, 'epoch'::timestamptz), is_active, created_at
		FROM location_histories
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var histories []History
	for rows.Next() {
		var h History
		if err := rows.Scan(&h.ID, &h.UserID, &h.BusName, &h.BusType, &h.TotalDistanceM,
			&h.AvgSpeedMS, &h.DurationMin, &h.StartedAt, &h.EndedAt, &h.IsActive, &h.CreatedAt); err != nil {
			return nil, err
		}
		histories = append(histories, h)
	}
	return histories, nil
}

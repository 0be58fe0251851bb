package user

import (
	"context"
	"errors"

	"github.com/yasuo72/TransitShare/internal/db"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a referenced user has no backing record.
var ErrNotFound = errors.New("user not found")

type Store struct {
	db db.Querier
}

func NewStore(db db.Querier) *Store {
	return &Store{db: db}
}

func (s *Store) Lookup(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, email, points, notifications_enabled, location_sharing, privacy_level, created_at
		FROM users WHERE id=$1
	`, id)

	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Points,
		&u.Preferences.Notifications, &u.Preferences.LocationSharing, &u.Preferences.PrivacyLevel,
		&u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// IncrementPoints adds delta to the user's ledger balance and returns the
// new total.
func (s *Store) IncrementPoints(ctx context.Context, id string, delta int) (int, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE users SET points = points + $2 WHERE id=$1
		RETURNING points
	`, id, delta)

	var total int
	err := row.Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) SavePreferences(ctx context.Context, id string, prefs Preferences) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET notifications_enabled=$2, location_sharing=$3, privacy_level=$4
		WHERE id=$1
	`, id, prefs.Notifications, prefs.LocationSharing, prefs.PrivacyLevel)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

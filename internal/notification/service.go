package notification

import (
	"context"
	"encoding/json"

	"github.com/yasuo72/TransitShare/internal/db"

	"github.com/google/uuid"
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// InsertBatch persists one notification per target user. Used when a
// proximity alert fires for a set of alert candidates.
func (s *Service) InsertBatch(ctx context.Context, notifications []Notification) error {
	for _, n := range notifications {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		data, err := json.Marshal(n.Data)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(ctx, `
			INSERT INTO notifications (id, user_id, type, title, message, data)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, n.ID, n.UserID, n.Type, n.Title, n.Message, data)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) List(ctx context.Context, userID string, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	offset := (page - 1) * limit

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, type, title, message, data, is_read, created_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	result := Page{CurrentPage: page, Notifications: []Notification{}}
	for rows.Next() {
		var n Notification
		var data []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data, &n.IsRead, &n.CreatedAt); err != nil {
			return Page{}, err
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &n.Data)
		}
		result.Notifications = append(result.Notifications, n)
	}
	rows.Close()

	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=$1`, userID).Scan(&result.TotalCount); err != nil {
		return Page{}, err
	}
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND NOT is_read`, userID).Scan(&result.UnreadCount); err != nil {
		return Page{}, err
	}
	return result, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notifications SET is_read=true WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	return err
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notifications SET is_read=true WHERE user_id=$1 AND NOT is_read
	`, userID)
	return err
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND NOT is_read`, userID).Scan(&count)
	return count, err
}

package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"socialzAPI/internal/notification"
)

type NotificationService struct {
	db *pgxpool.Pool
}

func NewNotificationService(db *pgxpool.Pool) *NotificationService {
	return &NotificationService{db: db}
}

// RegisterDevice stores a push token for the user. Re-registering the same
// token just moves it to this user.
func (s *NotificationService) RegisterDevice(ctx context.Context, userID string, req *notification.RegisterDeviceRequest) error {
	if req.Token == "" {
		return fmt.Errorf("device token is required")
	}

	query := `
	INSERT INTO device_tokens (id, user_id, token, platform, created_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (token)
	DO UPDATE SET user_id = $2, platform = $4
	`

	_, err := s.db.Exec(ctx, query, uuid.New().String(), userID, req.Token, req.Platform)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}

	return nil
}

func (s *NotificationService) GetDeviceTokens(ctx context.Context, userID string) ([]notification.DeviceToken, error) {
	query := `
	SELECT token, platform
	FROM device_tokens
	WHERE user_id = $1
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []notification.DeviceToken
	for rows.Next() {
		var t notification.DeviceToken
		if err := rows.Scan(&t.Token, &t.Platform); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device tokens: %w", err)
	}

	return tokens, nil
}

func (s *NotificationService) RemoveDevice(ctx context.Context, userID string, token string) error {
	result, err := s.db.Exec(ctx, `DELETE FROM device_tokens WHERE user_id = $1 AND token = $2`, userID, token)
	if err != nil {
		return fmt.Errorf("failed to remove device: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("device not found")
	}

	return nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/theriq/internal/models"
)

// GetSubscription возвращает состояние подписки из профиля пользователя.
func (s *Storage) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.GetSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT user_id, subscription_tier, subscription_status, subscription_expiry
			  FROM profiles
			  WHERE user_id = $1`
	var (
		sub    models.Subscription
		expiry sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(&sub.UserID, &sub.Tier, &sub.Status, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if expiry.Valid {
		t := expiry.Time
		sub.Expiry = &t
	}
	return &sub, nil
}

// CreateProfile создаёт профиль с начальной подпиской. Существующий профиль
// не изменяется; возвращает true, если профиль был создан.
func (s *Storage) CreateProfile(ctx context.Context, sub models.Subscription) (bool, error) {
	const op = "storage.CreateProfile"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO profiles (user_id, subscription_tier, subscription_status, subscription_expiry)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (user_id) DO NOTHING`
	res, err := s.DB.ExecContext(ctx, query, sub.UserID, sub.Tier, sub.Status, sub.Expiry)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rows == 1, nil
}

// UpdateSubscription перезаписывает тариф, статус и дату окончания подписки.
func (s *Storage) UpdateSubscription(ctx context.Context, sub models.Subscription) error {
	const op = "storage.UpdateSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE profiles
			  SET subscription_tier = $1,
			      subscription_status = $2,
			      subscription_expiry = $3,
			      updated_at = NOW()
			  WHERE user_id = $4`
	res, err := s.DB.ExecContext(ctx, query, sub.Tier, sub.Status, sub.Expiry, sub.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrProfileNotFound)
	}
	return nil
}

// DowngradeExpired одним условным UPDATE переводит истёкшую активную подписку
// на starter/canceled. Возвращает false, если подписка уже не подходит под
// условие (продлена или понижена параллельно).
func (s *Storage) DowngradeExpired(ctx context.Context, userID string, now time.Time) (bool, error) {
	const op = "storage.DowngradeExpired"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE profiles
			  SET subscription_tier = 'starter',
			      subscription_status = 'canceled',
			      updated_at = NOW()
			  WHERE user_id = $1
			    AND subscription_status = 'active'
			    AND subscription_expiry IS NOT NULL
			    AND subscription_expiry < $2`
	res, err := s.DB.ExecContext(ctx, query, userID, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rows > 0, nil
}

// FindExpiredActive возвращает до limit активных подписок, истёкших к моменту now.
func (s *Storage) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.ExpiredSubscription, error) {
	const op = "storage.FindExpiredActive"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT user_id, subscription_tier, subscription_expiry
			  FROM profiles
			  WHERE subscription_status = 'active'
			    AND subscription_expiry IS NOT NULL
			    AND subscription_expiry < $1
			  ORDER BY subscription_expiry
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.ExpiredSubscription
	for rows.Next() {
		var e models.ExpiredSubscription
		if err := rows.Scan(&e.UserID, &e.Tier, &e.Expiry); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/theriq/internal/models"
)

// CountClients возвращает количество клиентов пользователя.
func (s *Storage) CountClients(ctx context.Context, userID string) (int, error) {
	const op = "storage.CountClients"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// CreateClient добавляет клиента, если у пользователя их меньше limit.
// Строка профиля блокируется до конца транзакции, так что параллельные
// вставки одного пользователя проверяют лимит по очереди.
func (s *Storage) CreateClient(ctx context.Context, client models.Client, limit int) (*models.Client, error) {
	const op = "storage.CreateClient"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM profiles WHERE user_id = $1 FOR UPDATE`, client.UserID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients WHERE user_id = $1`, client.UserID).Scan(&count); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if count >= limit {
		return nil, fmt.Errorf("%s: %w", op, models.ErrClientLimitReached)
	}

	query := `INSERT INTO clients (id, user_id, name)
			  VALUES ($1, $2, $3)
			  RETURNING id, user_id, name, created_at`
	var created models.Client
	err = tx.QueryRowContext(ctx, query, client.ID, client.UserID, client.Name).
		Scan(&created.ID, &created.UserID, &created.Name, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &created, nil
}

// ListClients возвращает клиентов пользователя с пагинацией.
func (s *Storage) ListClients(ctx context.Context, userID string, limit, offset int) ([]*models.Client, error) {
	const op = "storage.ListClients"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, name, created_at
			  FROM clients
			  WHERE user_id = $1
			  ORDER BY created_at, id
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Client
	for rows.Next() {
		var c models.Client
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

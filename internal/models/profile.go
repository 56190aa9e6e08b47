// Package models содержит доменные структуры профиля пользователя,
// его подписки и клиентов практики.
package models

import (
	"errors"
	"time"
)

// ErrProfileNotFound профиль пользователя отсутствует в хранилище.
var ErrProfileNotFound = errors.New("profile not found")

// Статусы подписки.
const (
	StatusActive   = "active"
	StatusCanceled = "canceled"
	StatusTrial    = "trial"
)

// Subscription состояние подписки пользователя в том виде, в каком оно
// хранится в профиле. Tier хранится сырой строкой: в базе могут оказаться
// устаревшие или неизвестные значения.
type Subscription struct {
	UserID string     `json:"user_id"`
	Tier   string     `json:"subscription_tier"`
	Status string     `json:"subscription_status"`
	Expiry *time.Time `json:"subscription_expiry"`
}

// Expired сообщает, что активная подписка истекла к моменту now.
func (s Subscription) Expired(now time.Time) bool {
	return s.Status == StatusActive && s.Expiry != nil && s.Expiry.Before(now)
}

// ExpiredSubscription подписка, найденная планировщиком для понижения.
type ExpiredSubscription struct {
	UserID string
	Tier   string
	Expiry time.Time
}

// DummySubscription запрос на смену тарифа. Допускаются устаревшие имена тарифов.
type DummySubscription struct {
	Tier string `json:"tier" validate:"required,oneof=starter pro premium basic professional enterprise"`
}

// DowngradeEvent сообщение о понижении истёкшей подписки до starter.
type DowngradeEvent struct {
	UserID       string    `json:"user_id"`
	PreviousTier string    `json:"previous_tier"`
	DowngradedAt time.Time `json:"downgraded_at"`
}

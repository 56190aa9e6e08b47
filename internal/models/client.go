package models

import (
	"errors"
	"time"
)

// ErrClientLimitReached у пользователя уже столько клиентов, сколько позволяет тариф.
var ErrClientLimitReached = errors.New("client limit reached")

// Client клиент терапевтической практики.
type Client struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// DummyClient используется для приёма данных из JSON-запроса.
type DummyClient struct {
	Name string `json:"name" validate:"required,max=200"`
}

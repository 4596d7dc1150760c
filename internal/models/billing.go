package models

import (
	"encoding/json"
	"time"
)

// BillingEvent проверенное событие жизненного цикла подписки от платёжного провайдера.
type BillingEvent struct {
	ID      string
	Type    string
	Created time.Time
	Data    json.RawMessage // объект события (data.object)
}

// CheckoutRequest параметры сессии оформления подписки.
type CheckoutRequest struct {
	UserID     string
	Email      string
	CustomerID string // пустой, если клиент ещё не создан
	PriceID    string
	SuccessURL string
	CancelURL  string
}

package paymentprovider

import (
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidSignature подпись вебхука отсутствует или не совпала.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrNotConfigured не задан ключ API или секрет вебхука.
	ErrNotConfigured = errors.New("payment provider not configured")
	// ErrEmptyURL провайдер вернул сессию без URL.
	ErrEmptyURL = errors.New("payment provider returned empty session url")
)

// SignatureHeader заголовок с подписью вебхука.
const SignatureHeader = "Stripe-Signature"

// ExpandableID идентификатор объекта, который провайдер может прислать
// строкой или развёрнутым объектом с полем id.
type ExpandableID string

func (e *ExpandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = ExpandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = ExpandableID(obj.ID)
	return nil
}

// CheckoutSession нужные поля объекта checkout.session.
type CheckoutSession struct {
	ID              string            `json:"id"`
	Mode            string            `json:"mode"`
	Customer        ExpandableID      `json:"customer"`
	Subscription    ExpandableID      `json:"subscription"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *CustomerDetails  `json:"customer_details"`
	Metadata        map[string]string `json:"metadata"`
}

// CustomerDetails данные покупателя, введённые на странице оплаты.
type CustomerDetails struct {
	Email string `json:"email"`
}

// Email возвращает адрес покупателя.
func (s CheckoutSession) Email() string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// Subscription нужные поля объекта subscription.
type Subscription struct {
	ID       string            `json:"id"`
	Customer ExpandableID      `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// Invoice нужные поля объекта invoice.
type Invoice struct {
	ID            string       `json:"id"`
	Customer      ExpandableID `json:"customer"`
	CustomerEmail string       `json:"customer_email"`
}

package models

import "time"

// Profile профиль пользователя в хранилище прав.
type Profile struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	Plan                  Plan       `json:"plan"`
	BillingCustomerID     *string    `json:"billing_customer_id,omitempty"`
	BillingSubscriptionID *string    `json:"billing_subscription_id,omitempty"`
	LastEventAt           *time.Time `json:"-"` // время последнего применённого события биллинга
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// HasBillingCustomer сообщает, привязан ли к профилю клиент платёжного провайдера.
func (p *Profile) HasBillingCustomer() bool {
	return p != nil && p.BillingCustomerID != nil && *p.BillingCustomerID != ""
}

// PaymentIssue уведомление о проблеме с оплатой, публикуется в очередь.
type PaymentIssue struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	CustomerID string `json:"customer_id"`
	InvoiceID  string `json:"invoice_id"`
	EventType  string `json:"event_type"`
}

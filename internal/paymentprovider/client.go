// Package paymentprovider работает со Stripe: сессии оформления подписки и
// портала управления, проверка подписи вебхуков.
package paymentprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/regexgpt/regexgpt/internal/models"
)

// MetadataUserID ключ метаданных с идентификатором пользователя.
const MetadataUserID = "userId"

// Client клиент Stripe.
type Client struct {
	secretKey     string
	webhookSecret string

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	createPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

// NewClient создаёт клиент Stripe с ключом API и секретом подписи вебхуков.
func NewClient(secretKey, webhookSecret string) *Client {
	backend := stripe.GetBackend(stripe.APIBackend)
	cs := checkoutsession.Client{B: backend, Key: secretKey}
	ps := portalsession.Client{B: backend, Key: secretKey}
	return &Client{
		secretKey:             secretKey,
		webhookSecret:         webhookSecret,
		createCheckoutSession: cs.New,
		createPortalSession:   ps.New,
	}
}

// CreateCheckoutSession создаёт сессию оформления подписки и возвращает её URL.
// Если клиент уже есть, сессия привязывается к нему, иначе Stripe создаёт нового
// по email. Идентификатор пользователя пишется в метаданные сессии и подписки.
func (c *Client) CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (string, error) {
	const op = "paymentprovider.CreateCheckoutSession"
	if c.secretKey == "" || req.PriceID == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataUserID: req.UserID},
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else {
		params.CustomerCreation = stripe.String(string(stripe.CheckoutSessionCustomerCreationAlways))
		if req.Email != "" {
			params.CustomerEmail = stripe.String(req.Email)
		}
	}
	params.AddMetadata(MetadataUserID, req.UserID)
	params.Context = ctx

	session, err := c.createCheckoutSession(params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if session == nil || session.URL == "" {
		return "", fmt.Errorf("%s: %w", op, ErrEmptyURL)
	}
	return session.URL, nil
}

// CreatePortalSession создаёт сессию портала управления подпиской и возвращает её URL.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	const op = "paymentprovider.CreatePortalSession"
	if c.secretKey == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := c.createPortalSession(params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if session == nil || session.URL == "" {
		return "", fmt.Errorf("%s: %w", op, ErrEmptyURL)
	}
	return session.URL, nil
}

// ConstructEvent проверяет подпись вебхука и возвращает событие.
func (c *Client) ConstructEvent(payload []byte, signature string) (models.BillingEvent, error) {
	const op = "paymentprovider.ConstructEvent"
	if c.webhookSecret == "" {
		return models.BillingEvent{}, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}
	if signature == "" {
		return models.BillingEvent{}, fmt.Errorf("%s: %w: missing %s header", op, ErrInvalidSignature, SignatureHeader)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return models.BillingEvent{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}

	ev := models.BillingEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if event.Created > 0 {
		ev.Created = time.Unix(event.Created, 0).UTC()
	}
	if event.Data != nil {
		ev.Data = event.Data.Raw
	}
	return ev, nil
}

// Package billing синхронизирует план пользователя с событиями платёжного
// провайдера (Plan Synchronizer) и создаёт сессии оплаты и управления подпиской.
//
// Доставка событий at-least-once и без гарантии порядка. Переходы идемпотентны,
// по умолчанию действует last-write-wins; с EnforceOrder устаревшие события
// пропускаются по времени создания.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/regexgpt/regexgpt/internal/lib/sl"
	"github.com/regexgpt/regexgpt/internal/metrics"
	"github.com/regexgpt/regexgpt/internal/models"
	"github.com/regexgpt/regexgpt/internal/paymentprovider"
	"github.com/regexgpt/regexgpt/internal/storage"
)

// Типы событий, которые обрабатывает синхронизатор.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
	EventInvoiceActionRequired = "invoice.payment_action_required"
)

// Result итог обработки события.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
	ResultStale     Result = "stale"
	ResultNotified  Result = "notified"
	ResultFailed    Result = "failed"
)

var (
	// ErrMalformedEvent тело события известного типа не разбирается.
	ErrMalformedEvent = errors.New("malformed billing event")
	// ErrAlreadyPro пользователь уже на плане pro.
	ErrAlreadyPro = errors.New("already subscribed to pro")
	// ErrNoBillingCustomer у профиля нет клиента платёжного провайдера.
	ErrNoBillingCustomer = errors.New("no billing account found")
)

// Repository методы хранилища прав, нужные синхронизатору.
type Repository interface {
	ApplyCheckout(ctx context.Context, u storage.CheckoutUpdate) (bool, error)
	SetPlanByCustomer(ctx context.Context, u storage.PlanUpdate) ([]string, error)
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetProfileByCustomer(ctx context.Context, customerID string) (*models.Profile, error)
}

// EventLog хранит идентификаторы уже обработанных событий.
type EventLog interface {
	SeenEvent(ctx context.Context, eventID string) (bool, error)
	RememberEvent(ctx context.Context, eventID string) error
}

// PlanCache кэш планов, который сбрасывается при каждой записи.
type PlanCache interface {
	InvalidatePlan(ctx context.Context, userID string) error
}

// Notifier публикует уведомления о проблемах с оплатой.
type Notifier interface {
	PublishPaymentIssue(ctx context.Context, issue models.PaymentIssue) error
}

// PaymentProvider сессии платёжного провайдера.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// Options настройки синхронизатора.
type Options struct {
	ProStatuses  []string
	EnforceOrder bool
	AppURL       string
	PriceID      string
	StoreTimeout time.Duration
}

// Service синхронизатор плана и оформление подписки.
type Service struct {
	repo     Repository
	events   EventLog
	cache    PlanCache
	notifier Notifier
	provider PaymentProvider
	opts     Options
	log      *slog.Logger
	metrics  metrics.Recorder
}

// Deps необязательные зависимости. Любое поле может быть nil.
type Deps struct {
	Events   EventLog
	Cache    PlanCache
	Notifier Notifier
	Provider PaymentProvider
	Metrics  metrics.Recorder
}

// New создаёт Service.
func New(repo Repository, deps Deps, opts Options, log *slog.Logger) *Service {
	if len(opts.ProStatuses) == 0 {
		opts.ProStatuses = []string{"active", "trialing"}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	opts.AppURL = strings.TrimRight(opts.AppURL, "/")
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		repo:     repo,
		events:   deps.Events,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		provider: deps.Provider,
		opts:     opts,
		log:      log,
		metrics:  rec,
	}
}

// IsProStatus сообщает, даёт ли статус подписки план pro.
func (s *Service) IsProStatus(status string) bool {
	return slices.Contains(s.opts.ProStatuses, status)
}

// HandleEvent применяет проверенное событие. Ошибка означает, что событие
// нужно повторить (кроме ErrMalformedEvent).
func (s *Service) HandleEvent(ctx context.Context, event models.BillingEvent) (Result, error) {
	const op = "billing.HandleEvent"
	log := s.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
	)

	if s.events != nil && event.ID != "" {
		seen, err := s.events.SeenEvent(ctx, event.ID)
		if err != nil {
			log.Warn("event log read failed", sl.Err(err))
		} else if seen {
			log.Info("duplicate event skipped")
			s.metrics.RecordWebhookEvent(event.Type, string(ResultDuplicate))
			return ResultDuplicate, nil
		}
	}

	res, err := s.apply(ctx, log, event)
	if err != nil {
		s.metrics.RecordWebhookEvent(event.Type, string(ResultFailed))
		return ResultFailed, fmt.Errorf("%s: %w", op, err)
	}

	if s.events != nil && event.ID != "" {
		if err := s.events.RememberEvent(ctx, event.ID); err != nil {
			log.Warn("event log write failed", sl.Err(err))
		}
	}
	log.Info("event processed", slog.String("result", string(res)))
	s.metrics.RecordWebhookEvent(event.Type, string(res))
	return res, nil
}

func (s *Service) apply(ctx context.Context, log *slog.Logger, event models.BillingEvent) (Result, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		var session paymentprovider.CheckoutSession
		if err := json.Unmarshal(event.Data, &session); err != nil {
			return "", fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
		return s.applyCheckout(ctx, log, session, event.Created)
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub paymentprovider.Subscription
		if err := json.Unmarshal(event.Data, &sub); err != nil {
			return "", fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
		if event.Type == EventSubscriptionDeleted {
			return s.applySubscriptionDeleted(ctx, log, sub, event.Created)
		}
		return s.applySubscriptionUpdated(ctx, log, sub, event.Created)
	case EventInvoicePaymentFailed, EventInvoiceActionRequired:
		var inv paymentprovider.Invoice
		if err := json.Unmarshal(event.Data, &inv); err != nil {
			return "", fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
		return s.notifyPaymentIssue(ctx, log, event.Type, inv), nil
	default:
		log.Debug("unhandled event type")
		return ResultIgnored, nil
	}
}

func (s *Service) applyCheckout(ctx context.Context, log *slog.Logger, session paymentprovider.CheckoutSession, at time.Time) (Result, error) {
	userID := session.Metadata[paymentprovider.MetadataUserID]
	customerID := string(session.Customer)
	if userID == "" || customerID == "" {
		log.Warn("checkout without user id or customer, ignoring",
			slog.String("session_id", session.ID))
		return ResultIgnored, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	applied, err := s.repo.ApplyCheckout(storeCtx, storage.CheckoutUpdate{
		UserID:         userID,
		Email:          session.Email(),
		CustomerID:     customerID,
		SubscriptionID: string(session.Subscription),
		EventAt:        at,
		EnforceOrder:   s.opts.EnforceOrder,
	})
	if err != nil {
		return "", err
	}
	if !applied {
		log.Info("stale checkout skipped", slog.String("user_id", userID))
		return ResultStale, nil
	}
	s.invalidate(ctx, log, userID)
	log.Info("user upgraded to pro", slog.String("user_id", userID), slog.String("customer_id", customerID))
	return ResultApplied, nil
}

func (s *Service) applySubscriptionUpdated(ctx context.Context, log *slog.Logger, sub paymentprovider.Subscription, at time.Time) (Result, error) {
	plan := models.PlanFree
	if s.IsProStatus(sub.Status) {
		plan = models.PlanPro
	}
	var subID *string
	if sub.ID != "" {
		subID = &sub.ID
	}
	return s.setPlan(ctx, log.With(slog.String("status", sub.Status)), storage.PlanUpdate{
		CustomerID:     string(sub.Customer),
		Plan:           plan,
		SubscriptionID: subID,
		EventAt:        at,
		EnforceOrder:   s.opts.EnforceOrder,
	})
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, log *slog.Logger, sub paymentprovider.Subscription, at time.Time) (Result, error) {
	return s.setPlan(ctx, log, storage.PlanUpdate{
		CustomerID:   string(sub.Customer),
		Plan:         models.PlanFree,
		EventAt:      at,
		EnforceOrder: s.opts.EnforceOrder,
	})
}

func (s *Service) setPlan(ctx context.Context, log *slog.Logger, u storage.PlanUpdate) (Result, error) {
	if u.CustomerID == "" {
		log.Warn("subscription event without customer, ignoring")
		return ResultIgnored, nil
	}
	log = log.With(slog.String("customer_id", u.CustomerID), slog.String("plan", string(u.Plan)))

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	ids, err := s.repo.SetPlanByCustomer(storeCtx, u)
	if errors.Is(err, storage.ErrProfileNotFound) {
		log.Warn("no profile for customer, ignoring")
		return ResultIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		log.Info("stale subscription event skipped")
		return ResultStale, nil
	}
	for _, id := range ids {
		s.invalidate(ctx, log, id)
	}
	log.Info("plan updated", slog.Int("profiles", len(ids)))
	return ResultApplied, nil
}

func (s *Service) notifyPaymentIssue(ctx context.Context, log *slog.Logger, eventType string, inv paymentprovider.Invoice) Result {
	customerID := string(inv.Customer)
	log = log.With(slog.String("customer_id", customerID), slog.String("invoice_id", inv.ID))
	log.Warn("payment issue reported")

	if s.notifier == nil || customerID == "" {
		return ResultIgnored
	}

	issue := models.PaymentIssue{
		Email:      inv.CustomerEmail,
		CustomerID: customerID,
		InvoiceID:  inv.ID,
		EventType:  eventType,
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	profile, err := s.repo.GetProfileByCustomer(storeCtx, customerID)
	switch {
	case err == nil:
		issue.UserID = profile.ID
		if profile.Email != "" {
			issue.Email = profile.Email
		}
	case !errors.Is(err, storage.ErrProfileNotFound):
		log.Warn("profile lookup failed", sl.Err(err))
	}
	if issue.Email == "" && issue.UserID == "" {
		log.Info("no recipient for payment issue")
		return ResultIgnored
	}

	if err := s.notifier.PublishPaymentIssue(ctx, issue); err != nil {
		log.Error("failed to publish payment issue", sl.Err(err))
		return ResultIgnored
	}
	return ResultNotified
}

func (s *Service) invalidate(ctx context.Context, log *slog.Logger, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePlan(ctx, userID); err != nil {
		log.Warn("plan cache invalidation failed", slog.String("user_id", userID), sl.Err(err))
	}
}

// CreateCheckout возвращает URL страницы оплаты pro для пользователя.
func (s *Service) CreateCheckout(ctx context.Context, userID, email string) (string, error) {
	const op = "billing.CreateCheckout"
	if s.provider == nil {
		return "", fmt.Errorf("%s: %w", op, paymentprovider.ErrNotConfigured)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	profile, err := s.repo.GetProfile(storeCtx, userID)
	cancel()
	if err != nil && !errors.Is(err, storage.ErrProfileNotFound) {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	req := models.CheckoutRequest{
		UserID:     userID,
		Email:      email,
		PriceID:    s.opts.PriceID,
		SuccessURL: s.opts.AppURL + "/?upgrade=success",
		CancelURL:  s.opts.AppURL + "/?upgrade=cancelled",
	}
	if profile != nil {
		if profile.Plan == models.PlanPro {
			return "", ErrAlreadyPro
		}
		if profile.HasBillingCustomer() {
			req.CustomerID = *profile.BillingCustomerID
		}
		if req.Email == "" {
			req.Email = profile.Email
		}
	}

	url, err := s.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return url, nil
}

// CreatePortal возвращает URL портала управления подпиской.
func (s *Service) CreatePortal(ctx context.Context, userID string) (string, error) {
	const op = "billing.CreatePortal"
	if s.provider == nil {
		return "", fmt.Errorf("%s: %w", op, paymentprovider.ErrNotConfigured)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	profile, err := s.repo.GetProfile(storeCtx, userID)
	cancel()
	if errors.Is(err, storage.ErrProfileNotFound) {
		return "", ErrNoBillingCustomer
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !profile.HasBillingCustomer() {
		return "", ErrNoBillingCustomer
	}

	url, err := s.provider.CreatePortalSession(ctx, *profile.BillingCustomerID, s.opts.AppURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return url, nil
}

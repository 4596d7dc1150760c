// Package metering реализует проверку дневной квоты (Rate Limiter) и учёт
// использования (Usage Recorder) поверх хранилища прав.
//
// Чтение при проверке квоты работает по принципу fail-open: если хранилище
// недоступно, запрос разрешается. Запись счётчика best-effort: ошибка
// логируется и не отменяет уже выполненную операцию, поэтому при гонке или
// сбое пользователь может немного превысить дневной лимит.
package metering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/regexgpt/regexgpt/internal/config"
	"github.com/regexgpt/regexgpt/internal/lib/sl"
	"github.com/regexgpt/regexgpt/internal/metrics"
	"github.com/regexgpt/regexgpt/internal/models"
	"github.com/regexgpt/regexgpt/internal/storage"
)

// ErrInvalidOperation неизвестная операция.
var ErrInvalidOperation = errors.New("invalid operation")

// Repository методы хранилища прав, нужные метерингу.
type Repository interface {
	// GetPlan возвращает план или storage.ErrProfileNotFound.
	GetPlan(ctx context.Context, userID string) (models.Plan, error)
	// GetDailyUsage возвращает счётчики за день, нулевые если строки нет.
	GetDailyUsage(ctx context.Context, userID, date string) (*models.DailyUsage, error)
	// IncrementUsage атомарно увеличивает счётчик операции.
	IncrementUsage(ctx context.Context, userID, date string, op models.Operation) error
	// EnsureProfile создаёт профиль free, если его нет.
	EnsureProfile(ctx context.Context, userID, email string) (*models.Profile, error)
}

// Cache кэш планов. Запись защищена поколением: план, прочитанный из базы до
// инвалидации, в кэш не попадает.
type Cache interface {
	GetPlan(ctx context.Context, userID string) (models.Plan, bool, error)
	PlanGeneration(ctx context.Context, userID string) (int64, error)
	SetPlanIfCurrent(ctx context.Context, userID string, plan models.Plan, gen int64) (bool, error)
}

// Service проверяет квоты и учитывает использование.
type Service struct {
	repo         Repository
	cache        Cache
	limits       config.Limits
	storeTimeout time.Duration
	log          *slog.Logger
	metrics      metrics.Recorder
	now          func() time.Time
}

// NewService создаёт Service. cache может быть nil.
func NewService(repo Repository, cache Cache, limits config.Limits, storeTimeout time.Duration,
	log *slog.Logger, rec metrics.Recorder) *Service {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Service{
		repo:         repo,
		cache:        cache,
		limits:       limits.WithDefaults(),
		storeTimeout: storeTimeout,
		log:          log,
		metrics:      rec,
		now:          time.Now,
	}
}

// Limit возвращает дневной лимит операции для плана.
func (s *Service) Limit(plan models.Plan, op models.Operation) int {
	pl := s.limits.Free
	if plan == models.PlanPro {
		pl = s.limits.Pro
	}
	if op == models.OperationExplain {
		return pl.Explain
	}
	return pl.Generate
}

// Check проверяет, может ли пользователь выполнить операцию сегодня.
// Remaining считается уже с учётом текущей операции.
// Ошибка возвращается только для неизвестной операции.
func (s *Service) Check(ctx context.Context, userID string, op models.Operation) (models.Entitlement, error) {
	const fn = "metering.Check"
	if !op.Valid() {
		return models.Entitlement{}, fmt.Errorf("%s: %w: %q", fn, ErrInvalidOperation, op)
	}
	if userID == "" {
		return models.Entitlement{Allowed: false, RequiresAuth: true, Plan: models.PlanFree}, nil
	}

	log := s.log.With(
		slog.String("op", fn),
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("user_id", userID),
		slog.String("operation", string(op)),
	)

	plan, err := s.Plan(ctx, userID)
	if err != nil {
		log.Warn("plan read failed, allowing request", sl.Err(err))
		s.metrics.RecordMeteringFailOpen()
		return models.Entitlement{Allowed: true, Remaining: 0, Limit: s.Limit(models.PlanFree, op), Plan: models.PlanFree}, nil
	}
	limit := s.Limit(plan, op)

	usage, err := s.dailyUsage(ctx, userID, models.UsageDate(s.now()))
	if err != nil {
		log.Warn("usage read failed, allowing request", sl.Err(err))
		s.metrics.RecordMeteringFailOpen()
		return models.Entitlement{Allowed: true, Remaining: 0, Limit: limit, Plan: plan}, nil
	}

	count := usage.Count(op)
	if count >= limit {
		log.Info("daily quota exhausted", slog.Int("count", count), slog.Int("limit", limit))
		s.metrics.RecordQuotaDenied(string(op), string(plan))
		return models.Entitlement{Allowed: false, Remaining: 0, Limit: limit, Plan: plan}, nil
	}

	return models.Entitlement{Allowed: true, Remaining: limit - count - 1, Limit: limit, Plan: plan}, nil
}

// Record увеличивает сегодняшний счётчик операции. Вызывается только после
// успешной операции. Запись не отменяется вместе с запросом, ошибки логируются.
func (s *Service) Record(ctx context.Context, userID string, op models.Operation) {
	const fn = "metering.Record"
	if userID == "" || !op.Valid() {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	if err := s.repo.IncrementUsage(ctx, userID, models.UsageDate(s.now()), op); err != nil {
		s.log.Error("failed to record usage",
			slog.String("op", fn),
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.String("user_id", userID),
			slog.String("operation", string(op)),
			sl.Err(err),
		)
		s.metrics.RecordUsageRecordError()
	}
}

// Plan возвращает план пользователя, сначала из кэша. Профиля нет: free.
func (s *Service) Plan(ctx context.Context, userID string) (models.Plan, error) {
	const fn = "metering.Plan"

	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		plan, found, err := s.cache.GetPlan(ctx, userID)
		switch {
		case err != nil:
			s.log.Warn("plan cache read failed", slog.String("op", fn), sl.Err(err))
		case found:
			return plan, nil
		default:
			gen, err = s.cache.PlanGeneration(ctx, userID)
			if err != nil {
				s.log.Warn("plan generation read failed", slog.String("op", fn), sl.Err(err))
			} else {
				cacheable = true
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	plan, err := s.repo.GetPlan(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrProfileNotFound):
		plan = models.PlanFree
	case err != nil:
		return "", fmt.Errorf("%s: %w", fn, err)
	case !plan.Valid():
		plan = models.PlanFree
	}

	if cacheable {
		stored, err := s.cache.SetPlanIfCurrent(ctx, userID, plan, gen)
		switch {
		case err != nil:
			s.log.Warn("plan cache write failed", slog.String("op", fn), sl.Err(err))
		case !stored:
			s.log.Debug("plan changed during read, not cached", slog.String("op", fn), slog.String("user_id", userID))
		}
	}
	return plan, nil
}

func (s *Service) dailyUsage(ctx context.Context, userID, date string) (*models.DailyUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.repo.GetDailyUsage(ctx, userID, date)
}

// Usage создаёт профиль при первом обращении и возвращает сводку за сегодня.
func (s *Service) Usage(ctx context.Context, userID, email string) (models.UsageSummary, error) {
	const fn = "metering.Usage"

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	profile, err := s.repo.EnsureProfile(storeCtx, userID, email)
	if err != nil {
		return models.UsageSummary{}, fmt.Errorf("%s: %w", fn, err)
	}
	plan := profile.Plan
	if !plan.Valid() {
		plan = models.PlanFree
	}

	date := models.UsageDate(s.now())
	usage, err := s.repo.GetDailyUsage(storeCtx, userID, date)
	if err != nil {
		return models.UsageSummary{}, fmt.Errorf("%s: %w", fn, err)
	}

	summary := models.UsageSummary{
		ID:         profile.ID,
		Email:      profile.Email,
		Plan:       plan,
		HasBilling: profile.HasBillingCustomer(),
		Date:       date,
		Usage:      make(map[models.Operation]models.OperationUsage, 2),
	}
	for _, op := range []models.Operation{models.OperationGenerate, models.OperationExplain} {
		used := usage.Count(op)
		limit := s.Limit(plan, op)
		summary.Usage[op] = models.OperationUsage{
			Used:      used,
			Limit:     limit,
			Remaining: max(limit-used, 0),
		}
	}
	return summary, nil
}

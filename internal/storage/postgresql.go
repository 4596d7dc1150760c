// Package storage реализует хранилище прав (Entitlement Store) на основе PostgreSQL:
// профили пользователей с тарифным планом и идентификаторами биллинга,
// дневные счётчики использования и сохранённые шаблоны.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/regexgpt/regexgpt/internal/models"
)

var (
	// ErrProfileNotFound профиль не найден.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInvalidOperation неизвестная операция.
	ErrInvalidOperation = errors.New("invalid operation")
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL и проверяет его.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// Ping проверяет доступность базы данных.
func (s *Storage) Ping(ctx context.Context) error {
	const op = "storage.Ping"
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// ===== PROFILE METHODS =====

const profileColumns = `id, email, plan, billing_customer_id, billing_subscription_id,
	last_event_at, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*models.Profile, error) {
	var (
		p            models.Profile
		plan         string
		customerID   sql.NullString
		subscription sql.NullString
		lastEventAt  sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Email, &plan, &customerID, &subscription,
		&lastEventAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Plan = models.Plan(plan)
	if customerID.Valid {
		p.BillingCustomerID = &customerID.String
	}
	if subscription.Valid {
		p.BillingSubscriptionID = &subscription.String
	}
	if lastEventAt.Valid {
		p.LastEventAt = &lastEventAt.Time
	}
	return &p, nil
}

// GetProfile возвращает профиль по идентификатору пользователя.
func (s *Storage) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	const op = "storage.GetProfile"

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// GetProfileByCustomer возвращает профиль по идентификатору клиента платёжного провайдера.
func (s *Storage) GetProfileByCustomer(ctx context.Context, customerID string) (*models.Profile, error) {
	const op = "storage.GetProfileByCustomer"

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE billing_customer_id = $1
		 ORDER BY updated_at DESC LIMIT 1`, customerID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// GetPlan возвращает текущий план пользователя.
func (s *Storage) GetPlan(ctx context.Context, userID string) (models.Plan, error) {
	const op = "storage.GetPlan"

	var plan string
	err := s.DB.QueryRowContext(ctx, `SELECT plan FROM profiles WHERE id = $1`, userID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", op, ErrProfileNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return models.Plan(plan), nil
}

// EnsureProfile создаёт профиль с планом free, если его ещё нет, и возвращает актуальную запись.
// Пустой email у существующего профиля заполняется переданным значением.
func (s *Storage) EnsureProfile(ctx context.Context, userID, email string) (*models.Profile, error) {
	const op = "storage.EnsureProfile"

	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO profiles (id, email, plan)
		VALUES ($1, $2, 'free')
		ON CONFLICT (id) DO UPDATE
			SET email = EXCLUDED.email, updated_at = now()
			WHERE profiles.email = '' AND EXCLUDED.email <> ''
		RETURNING `+profileColumns, userID, email)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetProfile(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// CheckoutUpdate данные завершённого оформления подписки.
type CheckoutUpdate struct {
	UserID         string
	Email          string
	CustomerID     string
	SubscriptionID string
	EventAt        time.Time
	// EnforceOrder пропускает запись, если уже применено более позднее событие.
	EnforceOrder bool
}

// ApplyCheckout переводит пользователя на pro, создавая профиль при необходимости.
// Идентификатор клиента записывается только если он ещё не задан.
// Возвращает false, если событие отброшено как устаревшее.
func (s *Storage) ApplyCheckout(ctx context.Context, u CheckoutUpdate) (bool, error) {
	const op = "storage.ApplyCheckout"

	var id string
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO profiles (id, email, plan, billing_customer_id, billing_subscription_id, last_event_at)
		VALUES ($1, $2, 'pro', NULLIF($3, ''), NULLIF($4, ''), $5::timestamptz)
		ON CONFLICT (id) DO UPDATE SET
			plan = 'pro',
			email = COALESCE(NULLIF(profiles.email, ''), EXCLUDED.email),
			billing_customer_id = COALESCE(profiles.billing_customer_id, EXCLUDED.billing_customer_id),
			billing_subscription_id = COALESCE(EXCLUDED.billing_subscription_id, profiles.billing_subscription_id),
			last_event_at = COALESCE(EXCLUDED.last_event_at, profiles.last_event_at),
			updated_at = now()
		WHERE NOT $6::boolean
			OR profiles.last_event_at IS NULL
			OR EXCLUDED.last_event_at IS NULL
			OR profiles.last_event_at <= EXCLUDED.last_event_at
		RETURNING id`,
		u.UserID, u.Email, u.CustomerID, u.SubscriptionID, nullTime(u.EventAt), u.EnforceOrder,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// PlanUpdate изменение плана по идентификатору клиента.
type PlanUpdate struct {
	CustomerID string
	Plan       models.Plan
	// SubscriptionID nil очищает идентификатор подписки.
	SubscriptionID *string
	EventAt        time.Time
	EnforceOrder   bool
}

// SetPlanByCustomer обновляет план и подписку у профилей клиента.
// Возвращает идентификаторы изменённых профилей; пустой результат без ошибки
// означает, что событие отброшено как устаревшее.
func (s *Storage) SetPlanByCustomer(ctx context.Context, u PlanUpdate) ([]string, error) {
	const op = "storage.SetPlanByCustomer"

	if !u.Plan.Valid() {
		return nil, fmt.Errorf("%s: invalid plan %q", op, u.Plan)
	}

	rows, err := s.DB.QueryContext(ctx, `
		UPDATE profiles SET
			plan = $2,
			billing_subscription_id = $3,
			last_event_at = COALESCE($4::timestamptz, last_event_at),
			updated_at = now()
		WHERE billing_customer_id = $1
			AND (NOT $5::boolean
				OR last_event_at IS NULL
				OR $4::timestamptz IS NULL
				OR last_event_at <= $4::timestamptz)
		RETURNING id`,
		u.CustomerID, string(u.Plan), u.SubscriptionID, nullTime(u.EventAt), u.EnforceOrder)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(ids) > 0 {
		return ids, nil
	}

	var exists bool
	err = s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM profiles WHERE billing_customer_id = $1)`, u.CustomerID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", op, ErrProfileNotFound)
	}
	return nil, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// ===== USAGE METHODS =====

// GetDailyUsage возвращает счётчики пользователя за день.
// Отсутствие строки означает нулевые счётчики.
func (s *Storage) GetDailyUsage(ctx context.Context, userID, date string) (*models.DailyUsage, error) {
	const op = "storage.GetDailyUsage"

	usage := &models.DailyUsage{UserID: userID, Date: date}
	err := s.DB.QueryRowContext(ctx, `
		SELECT generation_count, explanation_count
		FROM daily_usage
		WHERE user_id = $1 AND usage_date = $2::date`, userID, date,
	).Scan(&usage.GenerationCount, &usage.ExplanationCount)
	if errors.Is(err, sql.ErrNoRows) {
		return usage, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return usage, nil
}

// IncrementUsage атомарно увеличивает счётчик операции за день на единицу,
// создавая строку при её отсутствии.
func (s *Storage) IncrementUsage(ctx context.Context, userID, date string, operation models.Operation) error {
	const op = "storage.IncrementUsage"

	var gen, expl int
	switch operation {
	case models.OperationGenerate:
		gen = 1
	case models.OperationExplain:
		expl = 1
	default:
		return fmt.Errorf("%s: %w: %q", op, ErrInvalidOperation, operation)
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO daily_usage (user_id, usage_date, generation_count, explanation_count)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (user_id, usage_date) DO UPDATE SET
			generation_count = daily_usage.generation_count + EXCLUDED.generation_count,
			explanation_count = daily_usage.explanation_count + EXCLUDED.explanation_count`,
		userID, date, gen, expl)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ===== PATTERN METHODS =====

// SavePattern сохраняет результат операции в историю и возвращает его ID.
func (s *Storage) SavePattern(ctx context.Context, p models.SavedPattern) (string, error) {
	const op = "storage.SavePattern"

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO saved_patterns (id, user_id, input_text, output_text, operation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.UserID, p.InputText, p.OutputText, string(p.Operation), p.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return p.ID, nil
}

// ListPatterns возвращает последние сохранённые шаблоны пользователя, новые первыми.
func (s *Storage) ListPatterns(ctx context.Context, userID string, limit int) ([]*models.SavedPattern, error) {
	const op = "storage.ListPatterns"

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id::text, user_id, input_text, output_text, operation, created_at
		FROM saved_patterns
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	patterns := make([]*models.SavedPattern, 0, limit)
	for rows.Next() {
		var (
			p         models.SavedPattern
			operation string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.InputText, &p.OutputText, &operation, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		p.Operation = models.Operation(operation)
		patterns = append(patterns, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return patterns, nil
}

// Package regex реализует пользовательские операции generate и explain
// (Request Gateway): проверка ввода, квоты, вызов модели и учёт использования.
package regex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/regexgpt/regexgpt/internal/lib/sl"
	"github.com/regexgpt/regexgpt/internal/metrics"
	"github.com/regexgpt/regexgpt/internal/models"
)

// Ограничения длины ввода и истории.
const (
	MaxGenerateInput    = 500
	MaxExplainInput     = 1000
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

var (
	// ErrInvalidInput ввод пустой или слишком длинный.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAuthRequired операция требует входа.
	ErrAuthRequired = errors.New("authentication required")
	// ErrQuotaExceeded дневная квота исчерпана.
	ErrQuotaExceeded = errors.New("daily limit reached")
	// ErrNotPro функция доступна только на плане pro.
	ErrNotPro = errors.New("pro plan required")
	// ErrTransformFailed модель не вернула результат.
	ErrTransformFailed = errors.New("transform failed")
)

// InputError ошибка проверки ввода с сообщением для пользователя.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// QuotaError исчерпанная квота. Upgrade подсказывает переход на pro.
type QuotaError struct {
	Operation models.Operation
	Plan      models.Plan
	Limit     int
	Upgrade   bool
}

func (e *QuotaError) Error() string {
	if !e.Upgrade {
		return "Daily limit reached. Please try again tomorrow."
	}
	noun := "generations"
	if e.Operation == models.OperationExplain {
		noun = "explanations"
	}
	return fmt.Sprintf("Daily limit reached (%d %s). Upgrade to Pro for unlimited access.", e.Limit, noun)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// Metering проверка квоты и учёт использования.
type Metering interface {
	Check(ctx context.Context, userID string, op models.Operation) (models.Entitlement, error)
	Record(ctx context.Context, userID string, op models.Operation)
	Plan(ctx context.Context, userID string) (models.Plan, error)
}

// Transformer внешняя модель, которая генерирует или объясняет выражение.
type Transformer interface {
	Transform(ctx context.Context, op models.Operation, input string) (string, error)
}

// PatternRepository история сохранённых шаблонов.
type PatternRepository interface {
	SavePattern(ctx context.Context, p models.SavedPattern) (string, error)
	ListPatterns(ctx context.Context, userID string, limit int) ([]*models.SavedPattern, error)
}

type generateInput struct {
	Input string `validate:"required,max=500"`
}

type explainInput struct {
	Input string `validate:"required,max=1000"`
}

// Service выполняет операции generate и explain.
type Service struct {
	metering     Metering
	transformer  Transformer
	patterns     PatternRepository
	log          *slog.Logger
	metrics      metrics.Recorder
	validate     *validator.Validate
	storeTimeout time.Duration
	now          func() time.Time
}

// New создаёт Service. patterns может быть nil, тогда история не сохраняется.
func New(metering Metering, transformer Transformer, patterns PatternRepository,
	storeTimeout time.Duration, log *slog.Logger, rec metrics.Recorder) *Service {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Service{
		metering:     metering,
		transformer:  transformer,
		patterns:     patterns,
		log:          log,
		metrics:      rec,
		validate:     validator.New(),
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// ValidateInput проверяет ввод операции. Ввод из одних пробелов считается пустым,
// сам ввод возвращается без изменений: пробелы в регулярном выражении значимы.
func (s *Service) ValidateInput(op models.Operation, input string) (string, error) {
	var target any
	switch op {
	case models.OperationGenerate:
		target = generateInput{Input: input}
	case models.OperationExplain:
		target = explainInput{Input: input}
	default:
		return "", &InputError{Message: fmt.Sprintf("Unknown operation %q", op)}
	}
	if strings.TrimSpace(input) == "" {
		return "", &InputError{Message: "Input is required"}
	}

	err := s.validate.Struct(target)
	if err == nil {
		return input, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "", &InputError{Message: "Invalid input"}
	}
	switch verrs[0].Tag() {
	case "required":
		return "", &InputError{Message: "Input is required"}
	case "max":
		if op == models.OperationExplain {
			return "", &InputError{Message: fmt.Sprintf("Regex too long. Maximum %d characters.", MaxExplainInput)}
		}
		return "", &InputError{Message: fmt.Sprintf("Input too long. Maximum %d characters.", MaxGenerateInput)}
	default:
		return "", &InputError{Message: "Invalid input"}
	}
}

// Handle выполняет операцию для пользователя. Пустой userID означает анонимный вызов.
func (s *Service) Handle(ctx context.Context, userID string, op models.Operation, input string) (models.TransformResult, error) {
	const fn = "regex.Handle"
	log := s.log.With(
		slog.String("op", fn),
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("operation", string(op)),
	)

	input, err := s.ValidateInput(op, input)
	if err != nil {
		s.metrics.RecordOperation(string(op), metrics.OutcomeInvalidInput)
		return models.TransformResult{}, err
	}

	ent, err := s.metering.Check(ctx, userID, op)
	if err != nil {
		return models.TransformResult{}, fmt.Errorf("%s: %w", fn, err)
	}
	if ent.RequiresAuth {
		s.metrics.RecordOperation(string(op), metrics.OutcomeAuthRequired)
		return models.TransformResult{}, ErrAuthRequired
	}
	if !ent.Allowed {
		s.metrics.RecordOperation(string(op), metrics.OutcomeQuotaExceeded)
		return models.TransformResult{}, &QuotaError{
			Operation: op,
			Plan:      ent.Plan,
			Limit:     ent.Limit,
			Upgrade:   ent.Plan != models.PlanPro,
		}
	}

	start := time.Now()
	output, err := s.transformer.Transform(ctx, op, input)
	s.metrics.RecordTransformDuration(string(op), time.Since(start))
	if err != nil {
		log.Error("transform failed", slog.String("user_id", userID), sl.Err(err))
		s.metrics.RecordOperation(string(op), metrics.OutcomeUpstreamError)
		return models.TransformResult{}, fmt.Errorf("%s: %w: %w", fn, ErrTransformFailed, err)
	}

	s.metering.Record(ctx, userID, op)
	if ent.Plan == models.PlanPro {
		s.savePattern(ctx, log, userID, op, input, output)
	}
	s.metrics.RecordOperation(string(op), metrics.OutcomeSuccess)

	return models.TransformResult{
		Result:    output,
		Remaining: ent.Remaining,
		Plan:      ent.Plan,
	}, nil
}

func (s *Service) savePattern(ctx context.Context, log *slog.Logger, userID string, op models.Operation, input, output string) {
	if s.patterns == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	_, err := s.patterns.SavePattern(ctx, models.SavedPattern{
		UserID:     userID,
		InputText:  input,
		OutputText: output,
		Operation:  op,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		log.Warn("failed to save pattern", slog.String("user_id", userID), sl.Err(err))
	}
}

// NormalizeHistoryLimit приводит limit к диапазону [1, MaxHistoryLimit],
// некорректные значения заменяются значением по умолчанию.
func NormalizeHistoryLimit(limit int) int {
	switch {
	case limit < 1:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// History возвращает сохранённые шаблоны пользователя pro, новые первыми.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*models.SavedPattern, error) {
	const fn = "regex.History"
	if userID == "" {
		return nil, ErrAuthRequired
	}

	plan, err := s.metering.Plan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	if plan != models.PlanPro {
		return nil, ErrNotPro
	}
	if s.patterns == nil {
		return []*models.SavedPattern{}, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	patterns, err := s.patterns.ListPatterns(storeCtx, userID, NormalizeHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	if patterns == nil {
		patterns = []*models.SavedPattern{}
	}
	return patterns, nil
}

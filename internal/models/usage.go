package models

import "time"

// DailyUsage счётчики операций пользователя за один календарный день (UTC).
type DailyUsage struct {
	UserID           string `json:"user_id"`
	Date             string `json:"date"`
	GenerationCount  int    `json:"generation_count"`
	ExplanationCount int    `json:"explanation_count"`
}

// Count возвращает счётчик для операции.
func (u *DailyUsage) Count(op Operation) int {
	if u == nil {
		return 0
	}
	switch op {
	case OperationGenerate:
		return u.GenerationCount
	case OperationExplain:
		return u.ExplanationCount
	default:
		return 0
	}
}

// UsageDate возвращает ключ дня для счётчиков.
func UsageDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// OperationUsage использование одной операции за день.
type OperationUsage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// UsageSummary сводка по профилю и использованию за сегодня.
type UsageSummary struct {
	ID         string                       `json:"id"`
	Email      string                       `json:"email"`
	Plan       Plan                         `json:"plan"`
	HasBilling bool                         `json:"has_billing"`
	Date       string                       `json:"date"`
	Usage      map[Operation]OperationUsage `json:"usage"`
}

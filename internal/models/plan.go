// Package models содержит доменные структуры RegexGPT: профиль пользователя,
// тарифный план, дневные счётчики использования и сохранённые шаблоны.
package models

// Plan тарифный план пользователя.
type Plan string

const (
	// PlanFree бесплатный план с небольшой дневной квотой.
	PlanFree Plan = "free"
	// PlanPro платный план.
	PlanPro Plan = "pro"
)

// Valid сообщает, является ли значение известным планом.
func (p Plan) Valid() bool {
	return p == PlanFree || p == PlanPro
}

// Operation тарифицируемая операция.
type Operation string

const (
	// OperationGenerate генерация регулярного выражения по описанию.
	OperationGenerate Operation = "generate"
	// OperationExplain объяснение регулярного выражения.
	OperationExplain Operation = "explain"
)

// Valid сообщает, является ли значение известной операцией.
func (o Operation) Valid() bool {
	return o == OperationGenerate || o == OperationExplain
}

// Entitlement результат проверки квоты.
// Remaining считается уже с учётом текущей операции.
type Entitlement struct {
	Allowed      bool `json:"allowed"`
	Remaining    int  `json:"remaining"`
	Limit        int  `json:"limit"`
	Plan         Plan `json:"plan"`
	RequiresAuth bool `json:"requires_auth,omitempty"`
}

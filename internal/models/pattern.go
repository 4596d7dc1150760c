package models

import "time"

// SavedPattern результат операции, сохранённый в историю (только для pro).
type SavedPattern struct {
	ID         string    `json:"id"`
	UserID     string    `json:"-"`
	InputText  string    `json:"input"`
	OutputText string    `json:"output"`
	Operation  Operation `json:"operation"`
	CreatedAt  time.Time `json:"created_at"`
}

// TransformRequest тело запроса generate/explain.
type TransformRequest struct {
	Input string `json:"input"`
}

// TransformResult ответ generate/explain.
type TransformResult struct {
	Result    string `json:"result"`
	Remaining int    `json:"remaining"`
	Plan      Plan   `json:"plan"`
}

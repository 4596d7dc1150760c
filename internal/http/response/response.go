// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON-ответов HTTP-обработчиков.
package response

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator"
)

// Response описывает стандартную структуру JSON-ответа сервера.
// Status ("OK" или "Error"), Error при неуспехе, Data при успехе.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse тело ответа с ошибкой. Upgrade подсказывает переход на pro,
// RequiresAuth сообщает, что операция требует входа.
type ErrorResponse struct {
	Status       string `json:"status" example:"Error"`
	Error        string `json:"error" example:"invalid request body"`
	Upgrade      bool   `json:"upgrade,omitempty"`
	RequiresAuth bool   `json:"requires_auth,omitempty"`
}

const (
	// StatusOK значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает ответ с ошибкой и переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// QuotaError ответ об исчерпанной квоте.
func QuotaError(msg string, upgrade bool) ErrorResponse {
	return ErrorResponse{
		Status:  StatusError,
		Error:   msg,
		Upgrade: upgrade,
	}
}

// AuthRequired ответ для анонимного вызова операции, требующей входа.
func AuthRequired(msg string) ErrorResponse {
	return ErrorResponse{
		Status:       StatusError,
		Error:        msg,
		RequiresAuth: true,
	}
}

// ValidationError формирует ответ на основе ошибок валидации.
// Нарушения объединяются через запятую.
func ValidationError(errs validator.ValidationErrors) ErrorResponse {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at most %s characters", err.Field(), err.Param()))
		case "numeric":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers", err.Field()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return ErrorResponse{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

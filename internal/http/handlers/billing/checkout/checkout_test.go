package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/regexgpt/regexgpt/internal/http/middlewarectx"
	"github.com/regexgpt/regexgpt/internal/paymentprovider"
	"github.com/regexgpt/regexgpt/internal/services/billing"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CreateCheckout(ctx context.Context, userID, email string) (string, error) {
	args := m.Called(ctx, userID, email)
	return args.String(0), args.Error(1)
}

func TestCheckoutHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	tests := []struct {
		name           string
		userID         string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "сессия создана",
			userID: "U1",
			setupMock: func(m *MockService) {
				m.On("CreateCheckout", mock.Anything, "U1", "u@example.com").
					Return("https://checkout.stripe.com/c/pay/cs_1", nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"url":"https://checkout.stripe.com/c/pay/cs_1"}}`,
		},
		{
			name:           "без входа",
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"Please sign in to upgrade","requires_auth":true}`,
		},
		{
			name:   "уже pro",
			userID: "U1",
			setupMock: func(m *MockService) {
				m.On("CreateCheckout", mock.Anything, "U1", "u@example.com").Return("", billing.ErrAlreadyPro).Once()
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"You are already subscribed to Pro"}`,
		},
		{
			name:   "провайдер не настроен",
			userID: "U1",
			setupMock: func(m *MockService) {
				m.On("CreateCheckout", mock.Anything, "U1", "u@example.com").
					Return("", fmt.Errorf("billing.CreateCheckout: %w", paymentprovider.ErrNotConfigured)).Once()
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   `{"status":"Error","error":"Payment system not configured. Please contact support."}`,
		},
		{
			name:   "ошибка провайдера",
			userID: "U1",
			setupMock: func(m *MockService) {
				m.On("CreateCheckout", mock.Anything, "U1", "u@example.com").Return("", errors.New("stripe down")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"Failed to create checkout session"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)
			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", nil)
			if tt.userID != "" {
				req = req.WithContext(middlewarectx.WithUser(req.Context(), tt.userID, "u@example.com"))
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.JSONEq(t, tt.expectedBody, rr.Body.String())
			mockService.AssertExpectations(t)
		})
	}
}

package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/regexgpt/regexgpt/internal/models"
	"github.com/regexgpt/regexgpt/internal/paymentprovider"
	"github.com/regexgpt/regexgpt/internal/services/billing"
)

const testSecret = "whsec_test_secret"

type MockService struct {
	mock.Mock
}

func (m *MockService) HandleEvent(ctx context.Context, event models.BillingEvent) (billing.Result, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(billing.Result), args.Error(1)
}

func eventPayload(id, typ string, created time.Time, object string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","api_version":"2025-07-30.basil","created":%d,"type":%q,"data":{"object":%s}}`,
		id, created.Unix(), typ, object,
	))
}

func sign(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})
	return signed.Header
}

func TestWebhookHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	checkout := eventPayload("evt_1", billing.EventCheckoutCompleted, created,
		`{"id":"cs_1","customer":"cus_1","subscription":"sub_1","metadata":{"userId":"U123"}}`)

	tests := []struct {
		name           string
		payload        []byte
		signature      func(payload []byte) string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:      "событие применено",
			payload:   checkout,
			signature: func(p []byte) string { return sign(p, testSecret) },
			setupMock: func(m *MockService) {
				m.On("HandleEvent", mock.Anything, mock.MatchedBy(func(ev models.BillingEvent) bool {
					return ev.ID == "evt_1" &&
						ev.Type == billing.EventCheckoutCompleted &&
						ev.Created.Equal(created) &&
						bytes.Contains(ev.Data, []byte(`"cus_1"`))
				})).Return(billing.ResultApplied, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"received":true,"result":"applied"}}`,
		},
		{
			name:           "без подписи",
			payload:        checkout,
			signature:      func([]byte) string { return "" },
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"missing signature"}`,
		},
		{
			name:           "чужой секрет",
			payload:        checkout,
			signature:      func(p []byte) string { return sign(p, "whsec_other") },
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid signature"}`,
		},
		{
			name:           "подпись от другого тела",
			payload:        checkout,
			signature:      func([]byte) string { return sign([]byte(`{"id":"evt_other"}`), testSecret) },
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid signature"}`,
		},
		{
			name:      "неизвестный тип подтверждается",
			payload:   eventPayload("evt_2", "customer.created", created, `{"id":"cus_1"}`),
			signature: func(p []byte) string { return sign(p, testSecret) },
			setupMock: func(m *MockService) {
				m.On("HandleEvent", mock.Anything, mock.Anything).Return(billing.ResultIgnored, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"received":true,"result":"ignored"}}`,
		},
		{
			name:      "битое событие",
			payload:   checkout,
			signature: func(p []byte) string { return sign(p, testSecret) },
			setupMock: func(m *MockService) {
				m.On("HandleEvent", mock.Anything, mock.Anything).
					Return(billing.ResultFailed, fmt.Errorf("billing.HandleEvent: %w", billing.ErrMalformedEvent)).Once()
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"malformed event"}`,
		},
		{
			name:      "ошибка хранилища",
			payload:   checkout,
			signature: func(p []byte) string { return sign(p, testSecret) },
			setupMock: func(m *MockService) {
				m.On("HandleEvent", mock.Anything, mock.Anything).Return(billing.ResultFailed, errors.New("db down")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"webhook handler failed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)
			handler := New(logger, paymentprovider.NewClient("sk_test", testSecret), mockService)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader(tt.payload))
			if sig := tt.signature(tt.payload); sig != "" {
				req.Header.Set(paymentprovider.SignatureHeader, sig)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.JSONEq(t, tt.expectedBody, rr.Body.String())
			mockService.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_UnsignedPayloadCausesNoWrites(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	repo := &countingRepo{}
	svc := billing.New(repo, billing.Deps{}, billing.Options{}, logger)
	handler := New(logger, paymentprovider.NewClient("sk_test", testSecret), svc)

	payload := eventPayload("evt_1", billing.EventCheckoutCompleted, time.Now(),
		`{"id":"cs_1","customer":"cus_1","subscription":"sub_1","metadata":{"userId":"U123"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader(payload))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, repo.calls)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader(payload))
	req.Header.Set(paymentprovider.SignatureHeader, sign(payload, testSecret))
	rr = httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, repo.calls)
}

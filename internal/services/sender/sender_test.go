package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/regexgpt/regexgpt/internal/lib/rabbitmq"
	"github.com/regexgpt/regexgpt/internal/lib/smtp"
	"github.com/regexgpt/regexgpt/internal/models"
	"github.com/regexgpt/regexgpt/internal/storage"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Connect(ctx context.Context) (smtp.Client, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(smtp.Client), args.Error(1)
}

func (m *MockTransport) GetSMTPUser() string {
	args := m.Called()
	return args.String(0)
}

type MockSMTPClient struct {
	mock.Mock
}

func (m *MockSMTPClient) Mail(from string) error {
	args := m.Called(from)
	return args.Error(0)
}

func (m *MockSMTPClient) Rcpt(to string) error {
	args := m.Called(to)
	return args.Error(0)
}

func (m *MockSMTPClient) Data() (io.WriteCloser, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

func (m *MockSMTPClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSMTPClient) Quit() error {
	args := m.Called()
	return args.Error(0)
}

type MockSMTPWriter struct {
	mock.Mock
}

func (m *MockSMTPWriter) Write(p []byte) (n int, err error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockSMTPWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// expectDelivery настраивает успешную отправку письма на адрес to.
func expectDelivery(tr *MockTransport, to string) {
	mockClient := new(MockSMTPClient)
	mockWriter := new(MockSMTPWriter)

	tr.On("GetSMTPUser").Return("billing@regexgpt.io")
	tr.On("Connect", mock.Anything).Return(mockClient, nil).Once()
	mockClient.On("Mail", "billing@regexgpt.io").Return(nil).Once()
	mockClient.On("Rcpt", to).Return(nil).Once()
	mockClient.On("Data").Return(mockWriter, nil).Once()
	mockWriter.On("Write", mock.AnythingOfType("[]uint8")).Return(100, nil).Once()
	mockWriter.On("Close").Return(nil).Once()
	mockClient.On("Quit").Return(nil).Once()
	mockClient.On("Close").Return(nil).Once()
}

func TestService_SendPaymentIssue(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		setupMocks  func(*MockRepository, *MockTransport)
		wantErr     string
		wantDiscard bool
	}{
		{
			name: "success with email in message",
			body: `{"user_id":"U1","email":"u@example.com","customer_id":"cus_1","invoice_id":"in_1","event_type":"invoice.payment_failed"}`,
			setupMocks: func(_ *MockRepository, tr *MockTransport) {
				expectDelivery(tr, "u@example.com")
			},
		},
		{
			name: "email resolved from profile",
			body: `{"user_id":"U1","customer_id":"cus_1","event_type":"invoice.payment_action_required"}`,
			setupMocks: func(r *MockRepository, tr *MockTransport) {
				r.On("GetProfile", mock.Anything, "U1").Return(&models.Profile{ID: "U1", Email: "p@example.com"}, nil).Once()
				expectDelivery(tr, "p@example.com")
			},
		},
		{
			name:        "invalid JSON",
			body:        `invalid json`,
			setupMocks:  func(_ *MockRepository, _ *MockTransport) {},
			wantErr:     "error unmarshalling message",
			wantDiscard: true,
		},
		{
			name: "profile not found",
			body: `{"user_id":"U1","customer_id":"cus_1"}`,
			setupMocks: func(r *MockRepository, _ *MockTransport) {
				r.On("GetProfile", mock.Anything, "U1").
					Return(nil, fmt.Errorf("storage.GetProfile: %w", storage.ErrProfileNotFound)).Once()
			},
			wantErr:     "no recipient",
			wantDiscard: true,
		},
		{
			name: "repository error is retried",
			body: `{"user_id":"U1","customer_id":"cus_1"}`,
			setupMocks: func(r *MockRepository, _ *MockTransport) {
				r.On("GetProfile", mock.Anything, "U1").Return(nil, errors.New("db down")).Once()
			},
			wantErr: "db down",
		},
		{
			name: "SMTP connection error",
			body: `{"email":"u@example.com"}`,
			setupMocks: func(_ *MockRepository, tr *MockTransport) {
				tr.On("GetSMTPUser").Return("billing@regexgpt.io")
				tr.On("Connect", mock.Anything).Return(nil, errors.New("connection error")).Once()
			},
			wantErr: "connection error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			transport := new(MockTransport)
			service := NewSenderService(repo, newNoopLogger(), transport, "https://regexgpt.io")

			tt.setupMocks(repo, transport)

			err := service.SendPaymentIssue(context.Background(), []byte(tt.body))

			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, tt.wantDiscard, errors.Is(err, rabbitmq.ErrDiscard))
			} else {
				assert.NoError(t, err)
			}

			repo.AssertExpectations(t)
			transport.AssertExpectations(t)
		})
	}
}

func TestService_SMTPErrorHandling(t *testing.T) {
	body := []byte(`{"email":"u@example.com","customer_id":"cus_1"}`)

	rcptFails := func(rcptErr error) func(*MockTransport) {
		return func(tr *MockTransport) {
			mockClient := new(MockSMTPClient)

			tr.On("GetSMTPUser").Return("billing@regexgpt.io")
			tr.On("Connect", mock.Anything).Return(mockClient, nil).Once()
			mockClient.On("Mail", "billing@regexgpt.io").Return(nil).Once()
			mockClient.On("Rcpt", "u@example.com").Return(rcptErr).Once()
			mockClient.On("Close").Return(nil).Once()
		}
	}

	tests := []struct {
		name         string
		setupMocks   func(*MockTransport)
		errorMessage string
		wantDiscard  bool
	}{
		{
			name:         "SMTP Rcpt permanent rejection is discarded",
			setupMocks:   rcptFails(&textproto.Error{Code: 550, Msg: "mailbox unavailable"}),
			errorMessage: "mailbox unavailable",
			wantDiscard:  true,
		},
		{
			name:         "SMTP Rcpt temporary failure is requeued",
			setupMocks:   rcptFails(&textproto.Error{Code: 451, Msg: "try again later"}),
			errorMessage: "try again later",
		},
		{
			name: "SMTP message rejected after DATA is discarded",
			setupMocks: func(tr *MockTransport) {
				mockClient := new(MockSMTPClient)
				mockWriter := new(MockSMTPWriter)

				tr.On("GetSMTPUser").Return("billing@regexgpt.io")
				tr.On("Connect", mock.Anything).Return(mockClient, nil).Once()
				mockClient.On("Mail", "billing@regexgpt.io").Return(nil).Once()
				mockClient.On("Rcpt", "u@example.com").Return(nil).Once()
				mockClient.On("Data").Return(mockWriter, nil).Once()
				mockWriter.On("Write", mock.AnythingOfType("[]uint8")).Return(100, nil).Once()
				mockWriter.On("Close").Return(&textproto.Error{Code: 554, Msg: "message rejected"}).Once()
				mockClient.On("Close").Return(nil).Once()
			},
			errorMessage: "message rejected",
			wantDiscard:  true,
		},
		{
			name: "SMTP connect error is requeued",
			setupMocks: func(tr *MockTransport) {
				tr.On("GetSMTPUser").Return("billing@regexgpt.io")
				tr.On("Connect", mock.Anything).Return(nil, errors.New("connection refused")).Once()
			},
			errorMessage: "connection refused",
		},
		{
			name: "SMTP Mail error",
			setupMocks: func(tr *MockTransport) {
				mockClient := new(MockSMTPClient)

				tr.On("GetSMTPUser").Return("billing@regexgpt.io")
				tr.On("Connect", mock.Anything).Return(mockClient, nil).Once()
				mockClient.On("Mail", "billing@regexgpt.io").Return(errors.New("mail error")).Once()
				mockClient.On("Close").Return(nil).Once()
			},
			errorMessage: "mail error",
		},
		{
			name: "SMTP Rcpt error",
			setupMocks: func(tr *MockTransport) {
				mockClient := new(MockSMTPClient)

				tr.On("GetSMTPUser").Return("billing@regexgpt.io")
				tr.On("Connect", mock.Anything).Return(mockClient, nil).Once()
				mockClient.On("Mail", "billing@regexgpt.io").Return(nil).Once()
				mockClient.On("Rcpt", "u@example.com").Return(errors.New("rcpt error")).Once()
				mockClient.On("Close").Return(nil).Once()
			},
			errorMessage: "rcpt error",
		},
		{
			name: "SMTP Data error",
			setupMocks: func(tr *MockTransport) {
				mockClient := new(MockSMTPClient)

				tr.On("GetSMTPUser").Return("billing@regexgpt.io")
				tr.On("Connect", mock.Anything).Return(mockClient, nil).Once()
				mockClient.On("Mail", "billing@regexgpt.io").Return(nil).Once()
				mockClient.On("Rcpt", "u@example.com").Return(nil).Once()
				mockClient.On("Data").Return(nil, errors.New("data error")).Once()
				mockClient.On("Close").Return(nil).Once()
			},
			errorMessage: "data error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := new(MockTransport)
			service := NewSenderService(new(MockRepository), newNoopLogger(), transport, "https://regexgpt.io")

			tt.setupMocks(transport)

			err := service.SendPaymentIssue(context.Background(), body)

			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMessage)
			assert.Equal(t, tt.wantDiscard, errors.Is(err, rabbitmq.ErrDiscard))

			transport.AssertExpectations(t)
		})
	}
}

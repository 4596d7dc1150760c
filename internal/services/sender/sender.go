// Package sender отправляет пользователям письма о проблемах с оплатой подписки.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/textproto"
	"strings"

	"github.com/regexgpt/regexgpt/internal/lib/rabbitmq"
	"github.com/regexgpt/regexgpt/internal/lib/sl"
	"github.com/regexgpt/regexgpt/internal/lib/smtp"
	"github.com/regexgpt/regexgpt/internal/models"
	"github.com/regexgpt/regexgpt/internal/storage"
)

// Repository источник адреса, если в уведомлении его нет.
type Repository interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// Service формирует и отправляет письма.
type Service struct {
	repo      Repository
	transport smtp.TransportInterface
	log       *slog.Logger
	appURL    string
}

// NewSenderService создает новый экземпляр Service.
func NewSenderService(repo Repository, log *slog.Logger, transport smtp.TransportInterface, appURL string) *Service {
	return &Service{
		repo:      repo,
		transport: transport,
		log:       log,
		appURL:    appURL,
	}
}

// SendPaymentIssue обрабатывает сообщение очереди billing.payment_failed.
// Сообщения, которые нельзя доставить ни при какой повторной попытке,
// возвращают ошибку, обёрнутую в rabbitmq.ErrDiscard.
func (s *Service) SendPaymentIssue(ctx context.Context, body []byte) error {
	const op = "sender.SendPaymentIssue"
	log := s.log.With(slog.String("op", op))

	var issue models.PaymentIssue
	if err := json.Unmarshal(body, &issue); err != nil {
		log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("%w: error unmarshalling message: %w", rabbitmq.ErrDiscard, err)
	}

	email := issue.Email
	if email == "" && issue.UserID != "" {
		profile, err := s.repo.GetProfile(ctx, issue.UserID)
		switch {
		case errors.Is(err, storage.ErrProfileNotFound):
			log.Warn("profile not found for payment issue", slog.String("user_id", issue.UserID))
		case err != nil:
			return fmt.Errorf("%s: failed to get profile: %w", op, err)
		default:
			email = profile.Email
		}
	}
	if email == "" {
		log.Warn("payment issue without recipient", slog.String("customer_id", issue.CustomerID))
		return fmt.Errorf("%w: no recipient for customer %s", rabbitmq.ErrDiscard, issue.CustomerID)
	}

	subject := "RegexGPT: problem with your Pro subscription payment"
	if issue.EventType == "invoice.payment_action_required" {
		subject = "RegexGPT: action required to confirm your payment"
	}
	bodyText := fmt.Sprintf("Hello!\n\n"+
		"We could not complete the latest payment for your RegexGPT Pro subscription.\n"+
		"Please update your payment details in the billing portal: %s\n\n"+
		"Invoice: %s\n", s.appURL, issue.InvoiceID)

	return s.sendEmail(ctx, []string{email}, subject, bodyText)
}

func (s *Service) sendEmail(ctx context.Context, to []string, subject, bodyText string) error {
	log := s.log.With(slog.String("op", "sender.sendEmail"))
	msg := strings.Join([]string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect(ctx)
	if err != nil {
		log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		log.Error("failed to set MAIL FROM", slog.String("from", s.transport.GetSMTPUser()), sl.Err(err))
		return deliveryError(err)
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return deliveryError(err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		log.Error("failed to get Data writer", sl.Err(err))
		return deliveryError(err)
	}

	if _, err = wc.Write([]byte(msg)); err != nil {
		log.Error("failed to write email body", sl.Err(err))
		return err
	}

	if err = wc.Close(); err != nil {
		log.Error("failed to close Data writer", sl.Err(err))
		return deliveryError(err)
	}

	if err = client.Quit(); err != nil {
		log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	log.Info("email sent successfully", slog.Any("to", to))
	return nil
}

// deliveryError помечает постоянные отказы сервера (коды 5xx) как ErrDiscard:
// повторная доставка того же письма получит тот же ответ.
func deliveryError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return fmt.Errorf("%w: smtp %d: %w", rabbitmq.ErrDiscard, tpErr.Code, err)
	}
	return err
}

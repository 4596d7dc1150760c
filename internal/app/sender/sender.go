// Package sender собирает воркер уведомлений о проблемах с оплатой.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/regexgpt/regexgpt/internal/config"
	"github.com/regexgpt/regexgpt/internal/lib/rabbitmq"
	"github.com/regexgpt/regexgpt/internal/lib/sl"
	"github.com/regexgpt/regexgpt/internal/lib/smtp"
	senderservice "github.com/regexgpt/regexgpt/internal/services/sender"
	"github.com/regexgpt/regexgpt/internal/storage"
)

const workers = 4

// App воркер, читающий очередь payment_failed и отправляющий письма.
type App struct {
	db            *storage.Storage
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.Service
	logger        *slog.Logger
}

// New подключается к базе и брокеру.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.sender.New"

	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)
	senderService := senderservice.NewSenderService(db, logger, transport, cfg.Stripe.AppURL)

	return &App{
		db:            db,
		conn:          conn,
		ch:            ch,
		senderService: senderService,
		logger:        logger,
	}, nil
}

// Run запускает потребителей и ждёт отмены ctx. Соединение закрывается
// после того, как начатые обработчики подтвердили сообщения.
func (a *App) Run(ctx context.Context) error {
	done, err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, rabbitmq.QueuePaymentFailed, workers, a.senderService.SendPaymentIssue)
	if err != nil {
		a.logger.Error("failed to start payment_failed consumer", sl.Err(err))
		a.close()
		return err
	}
	a.logger.Info("sender started", slog.String("queue", rabbitmq.QueuePaymentFailed))

	<-ctx.Done()
	a.logger.Info("shutting down sender, waiting for in-flight messages")
	<-done
	a.close()
	return nil
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}

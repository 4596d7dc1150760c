package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/regexgpt/regexgpt/internal/lib/sl"
)

// ErrDiscard обработчик возвращает его для сообщений, которые не имеет смысла
// возвращать в очередь (например, невалидный JSON).
var ErrDiscard = errors.New("discard message")

// ConsumerMessage запускает потребителя очереди. Сообщения обрабатываются
// параллельно, не более workers одновременно. Ошибка обработчика возвращает
// сообщение в очередь, кроме ErrDiscard. Канал done закрывается после отмены ctx,
// когда все начатые обработчики подтвердили свои сообщения: канал AMQP можно
// закрывать только после этого.
func ConsumerMessage(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, workers int,
	handler func(context.Context, []byte) error) (<-chan struct{}, error) {
	const op = "rabbitmq.ConsumerMessage"
	if workers < 1 {
		workers = 1
	}

	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.String("op", op), slog.String("queue", queueName))
	sem := make(chan struct{}, workers)
	done := make(chan struct{})
	go func() {
		var inflight sync.WaitGroup
		defer func() {
			inflight.Wait()
			close(done)
		}()
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					return
				}
				sem <- struct{}{}
				inflight.Add(1)
				go func(d amqp.Delivery) {
					defer func() {
						<-sem
						inflight.Done()
					}()
					if err := handler(ctx, d.Body); err != nil {
						requeue := !errors.Is(err, ErrDiscard)
						log.Warn("failed to handle message", sl.Err(err), slog.Bool("requeue", requeue))
						if nackErr := d.Nack(false, requeue); nackErr != nil {
							log.Error("failed to nack message", sl.Err(nackErr))
						}
						return
					}
					if ackErr := d.Ack(false); ackErr != nil {
						log.Error("failed to ack message", sl.Err(ackErr))
					}
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done, nil
}

package rabbitmq

const (
	// ExchangeNotifications обменник для уведомлений пользователям.
	ExchangeNotifications = "notifications"
	// RoutingKeyPaymentFailed ключ маршрутизации для проблем с оплатой.
	RoutingKeyPaymentFailed = "billing.payment_failed"
	// QueuePaymentFailed очередь воркера отправки писем о проблемах с оплатой.
	QueuePaymentFailed = "notifications.payment_failed"
)

// QueueConfig очередь и ключ, по которому она привязана к обменнику.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues возвращает очереди, которые слушает воркер уведомлений.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueuePaymentFailed, RoutingKey: RoutingKeyPaymentFailed},
	}
}

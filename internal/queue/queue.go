package queue

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/util"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// BatchQueue carries batch trigger messages.
	BatchQueue = "batch_queue"
	// EventExchange receives batch lifecycle events under "batch.<status>".
	EventExchange = "pubsub_exchange"

	retryDelayMs = 10000
)

// Publisher is the subset of *amqp091.Channel used for publishing.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Init dials RabbitMQ with the RABBITMQ_* settings.
func Init() (*amqp091.Connection, error) {
	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnv("RABBITMQ_USER"),
		util.GetEnv("RABBITMQ_PASSWORD"),
		util.GetEnvString("RABBITMQ_HOST", "localhost"),
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)
	conn, err := amqp091.Dial(connURL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return conn, nil
}

// SetupQueues declares each queue with its dead letter queue and a retry queue that
// routes expired messages back to the main queue.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	if err := ch.ExchangeDeclare(EventExchange, "topic", false, true, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", EventExchange, err)
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelayMs),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", retryName, err)
		}
	}
	return nil
}

func persistent(data []byte, headers amqp091.Table) amqp091.Publishing {
	return amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}
}

// PublishFIFO publishes data to a durable queue through the default exchange.
func PublishFIFO(ch Publisher, queueName string, data []byte) error {
	return ch.Publish("", queueName, false, false, persistent(data, nil))
}

// PublishTopic publishes an event to the event exchange.
func PublishTopic(ch Publisher, topic string, data []byte) error {
	return ch.Publish(EventExchange, topic, false, false, persistent(data, nil))
}

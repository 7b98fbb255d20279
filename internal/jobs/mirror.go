package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// ProgressMirror copies progress snapshots outside the process. Failures are
// logged by the Manager and never fail a job.
type ProgressMirror interface {
	Mirror(ctx context.Context, jobID string, p domain.JobProgress) error
	Close() error
}

// JobEvent is published when a job reaches a terminal state.
type JobEvent struct {
	JobID      string           `json:"job_id"`
	Filename   string           `json:"filename"`
	Status     domain.JobStatus `json:"status"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Error      string           `json:"error,omitempty"`
	ImageCount int              `json:"image_count"`
	At         time.Time        `json:"at"`
}

// Notifier publishes job events. Failures are logged and never fail a job.
type Notifier interface {
	Notify(ctx context.Context, ev JobEvent) error
	Close() error
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// RedisMirror keeps the latest snapshot of each job under
// {prefix}job:{id}:progress and publishes it on {prefix}job:{id}.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror connects to Redis and verifies the connection.
func NewRedisMirror(ctx context.Context, cfg RedisConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisMirror(client, cfg), nil
}

func newRedisMirror(client *redis.Client, cfg RedisConfig) *RedisMirror {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pdfenricher:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl}
}

// Channel is the pub/sub channel carrying a job's snapshots.
func (m *RedisMirror) Channel(jobID string) string {
	return m.prefix + "job:" + jobID
}

func (m *RedisMirror) key(jobID string) string {
	return m.Channel(jobID) + ":progress"
}

// Mirror stores p with the configured TTL and publishes it.
func (m *RedisMirror) Mirror(ctx context.Context, jobID string, p domain.JobProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.key(jobID), data, m.ttl)
	pipe.Publish(ctx, m.Channel(jobID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mirror: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// AMQPConfig holds the job event exchange settings.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// AMQPNotifier publishes JobEvents as JSON to a durable topic exchange. The
// routing key is RoutingKey with the job status appended.
type AMQPNotifier struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPNotifier dials the broker and declares the exchange.
func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "pdf-enricher"
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = "jobs"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}

	return &AMQPNotifier{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

// RoutingKey returns the key an event is published with.
func (n *AMQPNotifier) RoutingKey(ev JobEvent) string {
	return n.routingKey + "." + string(ev.Status)
}

// Notify publishes ev.
func (n *AMQPNotifier) Notify(ctx context.Context, ev JobEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.channel.PublishWithContext(ctx,
		n.exchange,
		n.RoutingKey(ev),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.JobID,
			Timestamp:    ev.At,
			Body:         body,
		},
	)
}

// Close closes the channel and connection.
func (n *AMQPNotifier) Close() error {
	n.channel.Close()
	return n.conn.Close()
}

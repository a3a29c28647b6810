package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobMessage is the queue message announcing a new export job
type JobMessage struct {
	JobID string `json:"job_id"`
}

// Publisher publishes messages to the export queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// QueueScheduler schedules jobs by publishing their id to RabbitMQ
type QueueScheduler struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewQueueScheduler creates a scheduler backed by the message broker
func NewQueueScheduler(publisher Publisher, logger *slog.Logger) *QueueScheduler {
	return &QueueScheduler{
		publisher: publisher,
		logger:    logger,
	}
}

// Schedule publishes the job id
func (s *QueueScheduler) Schedule(ctx context.Context, jobID string) error {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	if err := s.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish export job: %w", err)
	}

	s.logger.Debug("Export job published",
		slog.String("job_id", jobID),
	)
	return nil
}

// DeliverySource is the consuming side of the message broker
type DeliverySource interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Submitter accepts jobs into the worker pool, blocking while it is full
type Submitter interface {
	SubmitWait(ctx context.Context, jobID string) error
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Logger        *slog.Logger
	Source        DeliverySource
	Pool          Submitter
	ConsumerTag   string
	PrefetchCount int
}

// Consumer moves job ids from RabbitMQ into the worker pool
type Consumer struct {
	logger        *slog.Logger
	source        DeliverySource
	pool          Submitter
	consumerTag   string
	prefetchCount int
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	return &Consumer{
		logger:        cfg.Logger,
		source:        cfg.Source,
		pool:          cfg.Pool,
		consumerTag:   cfg.ConsumerTag,
		prefetchCount: cfg.PrefetchCount,
	}
}

// Run sets up QoS, starts consuming and dispatches until ctx is done or the
// delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.setupConsumer()
	if err != nil {
		return err
	}
	c.dispatch(ctx, deliveries)
	return nil
}

// setupConsumer sets QoS so the broker never hands out more messages than
// the pool can take, then starts consuming
func (c *Consumer) setupConsumer() (<-chan amqp.Delivery, error) {
	if c.prefetchCount > 0 {
		if err := c.source.Qos(c.prefetchCount); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
		c.logger.Info("RabbitMQ QoS configured",
			slog.Int("prefetch_count", c.prefetchCount),
		)
	}

	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", c.consumerTag),
	)
	return deliveries, nil
}

func (c *Consumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}
			if stop := c.handle(ctx, delivery); stop {
				return
			}
		}
	}
}

// handle dispatches one delivery and reports whether the dispatcher must stop
func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) bool {
	var msg JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// malformed messages go to the DLQ
		c.nack(delivery, false)
		return false
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		c.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		c.nack(delivery, false)
		return false
	}

	if err := c.pool.SubmitWait(ctx, msg.JobID); err != nil {
		c.logger.Info("Message dispatcher stopped while dispatching job",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		// SubmitWait only fails on shutdown; requeue so the next run picks the job up
		c.nack(delivery, true)
		return true
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK message",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}

	c.logger.Debug("Job dispatched to worker pool",
		slog.String("job_id", msg.JobID),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)
	return false
}

func (c *Consumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK message",
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
	}
}

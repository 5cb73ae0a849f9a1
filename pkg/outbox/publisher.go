package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/wms-platform/returns-service/pkg/cloudevents"
	"github.com/wms-platform/returns-service/pkg/logging"
	"github.com/wms-platform/returns-service/pkg/metrics"
)

// EventPublisher publishes CloudEvents to Kafka
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, event *cloudevents.ReturnsCloudEvent) error
}

// PublisherConfig holds configuration for the outbox publisher
type PublisherConfig struct {
	BatchSize int
	// MaxBatches caps one Drain call so a stuck broker cannot hold the job open
	MaxBatches int
}

// DefaultPublisherConfig returns default configuration
func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		BatchSize:  100,
		MaxBatches: 50,
	}
}

// DrainStats summarises one Drain call
type DrainStats struct {
	Published int
	Failed    int
}

// Publisher publishes events from the outbox to Kafka. The refund processor is a
// batch job, so it drains the outbox once at the end of a run rather than polling.
type Publisher struct {
	repo      Repository
	producer  EventPublisher
	logger    *logging.Logger
	metrics   *metrics.Metrics
	batchSize int
	maxBatch  int
}

// NewPublisher creates a new outbox publisher
func NewPublisher(
	repo Repository,
	producer EventPublisher,
	logger *logging.Logger,
	metrics *metrics.Metrics,
	config *PublisherConfig,
) *Publisher {
	if config == nil {
		config = DefaultPublisherConfig()
	}

	return &Publisher{
		repo:      repo,
		producer:  producer,
		logger:    logger.WithComponent("outbox-publisher"),
		metrics:   metrics,
		batchSize: config.BatchSize,
		maxBatch:  config.MaxBatches,
	}
}

// Drain publishes unpublished events until the outbox is empty, a batch makes no
// progress, or MaxBatches is reached.
func (p *Publisher) Drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats

	for batch := 0; batch < p.maxBatch; batch++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		events, err := p.repo.FindUnpublished(ctx, p.batchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to find unpublished events: %w", err)
		}
		if p.metrics != nil {
			p.metrics.SetOutboxPending(len(events))
		}
		if len(events) == 0 {
			break
		}

		published := p.processEvents(ctx, events, &stats)
		if published == 0 || len(events) < p.batchSize {
			break
		}
	}

	p.logger.Info("Outbox drained", "published", stats.Published, "failed", stats.Failed)
	return stats, nil
}

func (p *Publisher) processEvents(ctx context.Context, events []*OutboxEvent, stats *DrainStats) int {
	published := 0
	for _, event := range events {
		duration, err := p.publishEvent(ctx, event)
		if err != nil {
			p.logger.WithError(err).Error("Failed to publish event",
				"eventId", event.ID,
				"eventType", event.EventType,
				"aggregateId", event.AggregateID,
			)
			stats.Failed++

			if err := p.repo.IncrementRetry(ctx, event.ID, err.Error()); err != nil {
				p.logger.WithError(err).Error("Failed to increment retry count", "eventId", event.ID)
			}
			continue
		}

		stats.Published++
		published++
		p.logger.Debug("Published event from outbox",
			"eventId", event.ID,
			"eventType", event.EventType,
			"topic", event.Topic,
			"duration", duration,
		)

		if err := p.repo.MarkPublished(ctx, event.ID); err != nil {
			p.logger.WithError(err).Error("Failed to mark event as published", "eventId", event.ID)
		}
	}
	return published
}

// publishEvent publishes a single event to Kafka and returns the duration
func (p *Publisher) publishEvent(ctx context.Context, event *OutboxEvent) (time.Duration, error) {
	start := time.Now()

	cloudEvent, err := event.ToCloudEvent()
	if err != nil {
		return time.Since(start), fmt.Errorf("failed to convert to CloudEvent: %w", err)
	}

	if err := p.producer.PublishEvent(ctx, event.Topic, cloudEvent); err != nil {
		return time.Since(start), fmt.Errorf("failed to publish to Kafka: %w", err)
	}

	return time.Since(start), nil
}

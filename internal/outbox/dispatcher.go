package outbox

import (
	"context"
	"log/slog"
	"time"

	"gateway-service/internal/config"
	"gateway-service/internal/db"
	"gateway-service/internal/logcontext"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	defaultPollingIntervalMs   = 500
	defaultFetchSize           = 200
	defaultRetryPublishDelayMs = 10_000
	defaultMaxPublishAttempts  = 3
)

var (
	// dispatcher batch metrics
	dispatcherErrorFetchingCounter = metrics.GetOrCreateCounter(`outbox_dispatcher_total{result="fetching_failed"}`)
	dispatcherErrorKafkaCounter    = metrics.GetOrCreateCounter(`outbox_dispatcher_total{result="publish_failed"}`)
	dispatcherErrorUpdateCounter   = metrics.GetOrCreateCounter(`outbox_dispatcher_total{result="db_update_failed"}`)
	dispatcherSuccessCounter       = metrics.GetOrCreateCounter(`outbox_dispatcher_total{result="success"}`)

	dispatcherProcessDurationHistogram = metrics.GetOrCreateHistogram(`outbox_dispatcher_duration_milliseconds`)

	// dispatcher per event metrics
	eventsPublishedCounter   = metrics.GetOrCreateCounter(`outbox_dispatcher_events_total{result="published"}`)
	eventsMaxAttemptsCounter = metrics.GetOrCreateCounter(`outbox_dispatcher_events_total{result="max_attempts_reached"}`)
	eventsRescheduledCounter = metrics.GetOrCreateCounter(`outbox_dispatcher_events_total{result="rescheduled"}`)
)

// Writer is the slice of kafka.Writer the dispatcher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher publishes committed outbox rows to Kafka. Events are only ever
// visible here after the transaction that staged them committed, so
// subscribers never observe state that could still roll back.
type Dispatcher struct {
	repo               *db.Repository
	writer             Writer
	pollingInterval    time.Duration
	fetchSize          int
	retryDelay         time.Duration
	maxPublishAttempts int
	logger             *slog.Logger
}

func NewDispatcher(repo *db.Repository, writer Writer, cfg config.Outbox, logger *slog.Logger) *Dispatcher {
	pollingMs := cfg.PollingIntervalMs
	if pollingMs <= 0 {
		pollingMs = defaultPollingIntervalMs
	}
	fetchSize := cfg.FetchSize
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}
	retryDelayMs := cfg.RetryPublishDelayMs
	if retryDelayMs <= 0 {
		retryDelayMs = defaultRetryPublishDelayMs
	}
	maxAttempts := cfg.MaxPublishAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxPublishAttempts
	}

	return &Dispatcher{
		repo:               repo,
		writer:             writer,
		pollingInterval:    time.Duration(pollingMs) * time.Millisecond,
		fetchSize:          fetchSize,
		retryDelay:         time.Duration(retryDelayMs) * time.Millisecond,
		maxPublishAttempts: maxAttempts,
		logger:             logger,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.process(ctx)
			case <-ctx.Done():
				d.logger.InfoContext(ctx, "Context done, stopping outbox dispatcher")
				return
			}
		}
	}()
}

func (d *Dispatcher) process(ctx context.Context) {
	startTime := time.Now()

	// runId correlates all logs of one poll cycle
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := d.repo.BeginTx(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		dispatcherErrorFetchingCounter.Inc()
		return
	}

	defer tx.Rollback(ctx)

	events, err := d.repo.GetUnpublishedEvents(ctx, tx, d.fetchSize)
	if err != nil {
		d.logger.ErrorContext(ctx, "Error fetching unpublished events", "error", err)
		dispatcherErrorFetchingCounter.Inc()
		return
	}

	if len(events) == 0 {
		dispatcherSuccessCounter.Inc()
		return
	}

	d.logger.InfoContext(ctx, "Publishing outbox events", "count", len(events))

	writeErr := d.writer.WriteMessages(ctx, toKafkaMessages(events)...)
	if writeErr != nil {
		d.logger.ErrorContext(ctx, "Error writing events to Kafka", "error", writeErr)
		dispatcherErrorKafkaCounter.Inc()
	}

	now := time.Now()
	for _, e := range events {
		eventCtx := logcontext.AppendCtx(ctx, slog.String("eventId", e.ID.String()))

		e.PublishAttempts++

		if writeErr != nil {
			errMsg := writeErr.Error()
			e.Error = &errMsg

			if e.PublishAttempts >= d.maxPublishAttempts {
				d.logger.WarnContext(eventCtx, "Max publish attempts reached, parking event")
				e.ScheduledAt = nil

				eventsMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(e.PublishAttempts) * d.retryDelay)
				e.ScheduledAt = &scheduledAt

				eventsRescheduledCounter.Inc()
			}
		} else {
			e.ScheduledAt = nil
			e.Error = nil
			e.PublishedAt = &now

			eventsPublishedCounter.Inc()
		}

		if err := d.repo.UpdateOutboxEvent(eventCtx, tx, e); err != nil {
			d.logger.ErrorContext(eventCtx, "Error updating outbox event", "error", err)
			dispatcherErrorUpdateCounter.Inc()
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		d.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		dispatcherErrorUpdateCounter.Inc()
	} else {
		dispatcherSuccessCounter.Inc()
	}

	dispatcherProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
}

func toKafkaMessages(events []*db.OutboxEventEntity) []kafka.Message {
	var msgs []kafka.Message

	for _, e := range events {
		msgs = append(msgs, kafka.Message{
			// intent id as key keeps per-intent event ordering
			Key:   []byte(e.IntentID.String()),
			Value: []byte(e.Payload),
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(e.EventType)},
			},
		})
	}
	return msgs
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailstream/mailstream/internal/logger"
	"github.com/mailstream/mailstream/internal/model"
	"github.com/mailstream/mailstream/internal/service"
)

// DefaultMaxRetries is used when Options.MaxRetries is zero
const DefaultMaxRetries = 5

// DefaultDeliveryTimeout bounds one delivery attempt when Options.DeliveryTimeout is zero
const DefaultDeliveryTimeout = time.Minute

// Deliverer runs an already validated payload through the pipeline
type Deliverer interface {
	DeliverValidated(ctx context.Context, p *model.EmailPayload) model.DeliveryResult
}

// DeadLetterSink stores payloads that exhausted their retries
type DeadLetterSink interface {
	Record(ctx context.Context, p *model.EmailPayload, lastError string) error
}

// Options configures a Consumer
type Options struct {
	MaxRetries   int
	ErrorBackoff time.Duration
	// DeliveryTimeout bounds the delivery of a single entry
	DeliveryTimeout time.Duration
	// DeadLetters is optional; when nil exhausted payloads are only logged
	DeadLetters DeadLetterSink
}

// Consumer reads payloads from a Stream and delivers them
type Consumer struct {
	stream          Stream
	svc             Deliverer
	maxRetries      int
	errorBackoff    time.Duration
	deliveryTimeout time.Duration
	deadLetters     DeadLetterSink
	log             *logger.Logger
}

// NewConsumer creates a new Consumer
func NewConsumer(stream Stream, svc Deliverer, opts Options, log *logger.Logger) *Consumer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return &Consumer{
		stream:          stream,
		svc:             svc,
		maxRetries:      opts.MaxRetries,
		errorBackoff:    opts.ErrorBackoff,
		deliveryTimeout: opts.DeliveryTimeout,
		deadLetters:     opts.DeadLetters,
		log:             log.WithComponent("stream_consumer"),
	}
}

// Run creates the consumer group and processes entries until ctx is
// cancelled. Group and read errors are logged and retried after the backoff.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.stream.EnsureGroup(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		c.log.Error().Err(err).Dur("backoff", c.errorBackoff).Msg("failed to create consumer group")
		c.sleep(ctx)
	}
	c.log.Info().Int("max_retries", c.maxRetries).Msg("stream consumer started")

	for {
		if ctx.Err() != nil {
			c.log.Info().Msg("stream consumer stopped")
			return nil
		}

		entries, err := c.stream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Dur("backoff", c.errorBackoff).Msg("stream read failed")
			c.sleep(ctx)
			if IsNoGroup(err) {
				if err := c.stream.EnsureGroup(ctx); err != nil && ctx.Err() == nil {
					c.log.Error().Err(err).Msg("failed to recreate consumer group")
				}
			}
			continue
		}

		// Finish the batch even if shutdown starts midway.
		batchCtx := context.WithoutCancel(ctx)
		for _, e := range entries {
			c.ProcessEntry(batchCtx, e)
		}
	}
}

// ProcessEntry handles one stream entry and reports what happened to it.
// Every outcome except skipped acknowledges and removes the entry.
func (c *Consumer) ProcessEntry(ctx context.Context, e Entry) (res model.DeliveryResult) {
	log := c.log.WithEntry(e.ID)

	raw, ok := e.Payload()
	if !ok {
		log.Warn().Msg("stream entry has no payload field, leaving it pending")
		return model.Result(model.OutcomeSkipped, "missing payload field")
	}
	p, err := model.ParsePayload(raw)
	if errors.Is(err, model.ErrUnparsable) {
		log.Warn().Msg("stream entry payload is not valid JSON, leaving it pending")
		return model.Result(model.OutcomeSkipped, err.Error())
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("panic while processing stream entry")
			res = model.Failed(fmt.Errorf("internal error: %v", r))
			c.ack(ctx, log, e.ID)
		}
	}()

	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		log.Warn().Err(err).Msg("invalid payload, dropping entry")
		c.ack(ctx, log, e.ID)
		return model.Failed(err)
	}

	switch p.SchemaVersion {
	case model.SupportedSchemaVersion:
	case "":
		log.Warn().Str("payload_id", p.ID).Msg("missing schemaVersion")
	default:
		log.Warn().Str("payload_id", p.ID).Str("schema_version", p.SchemaVersion).Msg("unknown schemaVersion")
	}

	deliverCtx, cancel := context.WithTimeout(ctx, c.deliveryTimeout)
	res = c.svc.DeliverValidated(deliverCtx, p)
	cancel()
	if service.IsRetryable(res) {
		res = c.retry(ctx, log, e.ID, p, res)
	} else {
		c.ack(ctx, log, e.ID)
	}

	log.Delivery(p.ID, string(res.Outcome), res.Reason, len(p.To))
	return res
}

func (c *Consumer) retry(ctx context.Context, log *logger.Logger, entryID string, p *model.EmailPayload, failed model.DeliveryResult) model.DeliveryResult {
	next := p.Clone()
	next.Retries++

	if next.Retries > c.maxRetries {
		c.ack(ctx, log, entryID)
		c.deadLetter(ctx, log, p, failed.Reason)
		return model.DeliveryResult{
			Outcome: model.OutcomeMaxRetriesExceeded,
			Reason:  failed.Reason,
			Err:     failed.Err,
		}
	}

	next.ID = uuid.New().String()
	newID, err := c.stream.Add(ctx, next)
	if err != nil {
		c.ack(ctx, log, entryID)
		log.Error().Err(err).Str("payload_id", p.ID).Int("retries", next.Retries).Msg("failed to requeue payload, dropping entry")
		c.deadLetter(ctx, log, p, failed.Reason)
		return model.Failed(fmt.Errorf("requeue: %w", err))
	}
	c.ack(ctx, log, entryID)

	log.Info().
		Str("payload_id", p.ID).
		Str("retry_payload_id", next.ID).
		Str("retry_entry_id", newID).
		Int("retries", next.Retries).
		Msg("payload requeued")
	return model.Result(model.OutcomeRetried, failed.Reason)
}

func (c *Consumer) deadLetter(ctx context.Context, log *logger.Logger, p *model.EmailPayload, reason string) {
	if c.deadLetters == nil {
		return
	}
	if err := c.deadLetters.Record(ctx, p, reason); err != nil {
		log.Error().Err(err).Str("payload_id", p.ID).Msg("failed to record dead letter")
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.errorBackoff):
	}
}

func (c *Consumer) ack(ctx context.Context, log *logger.Logger, id string) {
	if err := c.stream.AckAndRemove(ctx, id); err != nil {
		log.Error().Err(err).Msg("failed to acknowledge stream entry")
	}
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mailstream/mailstream/internal/email"
	"github.com/mailstream/mailstream/internal/idempotency"
	"github.com/mailstream/mailstream/internal/logger"
	"github.com/mailstream/mailstream/internal/model"
	"github.com/mailstream/mailstream/internal/render"
)

// Delivery errors
var (
	ErrQueueUnavailable = errors.New("queue is not configured")
)

// ProviderError is a failed provider call. It is the only failure the stream
// consumer retries.
type ProviderError struct {
	Reason string
}

func (e *ProviderError) Error() string {
	return "provider send failed: " + e.Reason
}

// Queue places payloads on the durable stream
type Queue interface {
	Add(ctx context.Context, p *model.EmailPayload) (string, error)
}

// DeliveryService runs a payload through dedup, rendering and sending. It is
// shared by the HTTP handlers and the stream consumer.
type DeliveryService struct {
	guard       *idempotency.Guard
	templates   *render.Registry
	sender      email.Sender
	queue       Queue
	defaultFrom string
	log         *logger.Logger
}

// NewDeliveryService creates a new DeliveryService. queue may be nil, in
// which case Enqueue fails with ErrQueueUnavailable.
func NewDeliveryService(
	guard *idempotency.Guard,
	templates *render.Registry,
	sender email.Sender,
	queue Queue,
	defaultFrom string,
	log *logger.Logger,
) *DeliveryService {
	return &DeliveryService{
		guard:       guard,
		templates:   templates,
		sender:      sender,
		queue:       queue,
		defaultFrom: defaultFrom,
		log:         log.WithComponent("delivery_service"),
	}
}

// Deliver validates p and sends it unless it is a duplicate
func (s *DeliveryService) Deliver(ctx context.Context, p *model.EmailPayload) model.DeliveryResult {
	if err := p.Validate(); err != nil {
		return model.Failed(err)
	}
	return s.DeliverValidated(ctx, p)
}

// DeliverValidated runs dedup → render → send for a payload that already
// passed validation. Provider failures carry a *ProviderError.
func (s *DeliveryService) DeliverValidated(ctx context.Context, p *model.EmailPayload) model.DeliveryResult {
	first, err := s.guard.CheckAndSet(ctx, p)
	if err != nil {
		return model.Failed(err)
	}
	if !first {
		return model.Result(model.OutcomeDuplicate, "already processed within the idempotency window")
	}

	if p.NeedsRender() {
		text, err := s.templates.Render(p.TemplateID, p.TemplateVersion, p.TemplateVars)
		if err != nil {
			return model.Failed(err)
		}
		p.Text = text
	}

	res := s.sender.Send(ctx, email.BuildMessage(p, s.defaultFrom))
	if !res.Success {
		return model.Failed(&ProviderError{Reason: res.Error})
	}

	s.log.Debug().Str("payload_id", p.ID).Int("recipients", len(p.To)).Msg("email sent")
	return model.Result(model.OutcomeSent, "")
}

// Enqueue validates p, fills in an id and schema version, and adds it to the
// stream for the consumer. It returns the stream entry id.
func (s *DeliveryService) Enqueue(ctx context.Context, p *model.EmailPayload) (string, error) {
	if s.queue == nil {
		return "", ErrQueueUnavailable
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.SchemaVersion == "" {
		p.SchemaVersion = model.SupportedSchemaVersion
	}

	entryID, err := s.queue.Add(ctx, p)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue payload: %w", err)
	}
	return entryID, nil
}

// IsRetryable reports whether a failed result came from the provider
func IsRetryable(res model.DeliveryResult) bool {
	var perr *ProviderError
	return res.Outcome == model.OutcomeFailed && errors.As(res.Err, &perr)
}

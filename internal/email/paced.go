package email

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// PacedSender limits how fast the wrapped Sender is called
type PacedSender struct {
	next    Sender
	limiter *rate.Limiter
}

// NewPacedSender wraps next with a limiter allowing perSecond calls per
// second. A non-positive rate returns next unchanged.
func NewPacedSender(next Sender, perSecond float64) Sender {
	if perSecond <= 0 {
		return next
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &PacedSender{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Send waits for a token, then delegates
func (p *PacedSender) Send(ctx context.Context, msg Message) Result {
	if err := p.limiter.Wait(ctx); err != nil {
		return Fail(fmt.Sprintf("rate limiter: %v", err))
	}
	return p.next.Send(ctx, msg)
}

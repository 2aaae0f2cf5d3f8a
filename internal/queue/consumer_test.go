package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailstream/mailstream/internal/email"
	"github.com/mailstream/mailstream/internal/idempotency"
	"github.com/mailstream/mailstream/internal/logger"
	"github.com/mailstream/mailstream/internal/model"
	"github.com/mailstream/mailstream/internal/render"
	"github.com/mailstream/mailstream/internal/service"
)

type fakeStream struct {
	mu         sync.Mutex
	batches    [][]Entry
	groupErrs  []error
	groupCalls int
	readErrs   []error
	readErr    error
	added      []*model.EmailPayload
	addErr     error
	acked      []string
	reads      int
}

func (s *fakeStream) EnsureGroup(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupCalls++
	if len(s.groupErrs) > 0 {
		err := s.groupErrs[0]
		s.groupErrs = s.groupErrs[1:]
		return err
	}
	return nil
}

func (s *fakeStream) Read(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if len(s.readErrs) > 0 {
		err := s.readErrs[0]
		s.readErrs = s.readErrs[1:]
		return nil, err
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func (s *fakeStream) Add(_ context.Context, p *model.EmailPayload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return "", s.addErr
	}
	s.added = append(s.added, p.Clone())
	return "2-0", nil
}

func (s *fakeStream) AckAndRemove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, id)
	return nil
}

type fakeSender struct {
	mu     sync.Mutex
	calls  int
	result email.Result
}

func (f *fakeSender) Send(context.Context, email.Message) email.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

// stalledSender blocks until the delivery deadline passes.
type stalledSender struct{}

func (stalledSender) Send(ctx context.Context, _ email.Message) email.Result {
	<-ctx.Done()
	return email.Fail(ctx.Err().Error())
}

type panicDeliverer struct{}

func (panicDeliverer) DeliverValidated(context.Context, *model.EmailPayload) model.DeliveryResult {
	panic("boom")
}

type recordingSink struct {
	payloads []*model.EmailPayload
	reasons  []string
}

func (r *recordingSink) Record(_ context.Context, p *model.EmailPayload, lastError string) error {
	r.payloads = append(r.payloads, p)
	r.reasons = append(r.reasons, lastError)
	return nil
}

func newPipeline(t *testing.T, result email.Result) (*service.DeliveryService, *fakeSender) {
	t.Helper()
	sender := &fakeSender{result: result}
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(), time.Minute)
	svc := service.NewDeliveryService(guard, render.NewRegistry(), sender, nil, "noreply@example.com", logger.Nop())
	return svc, sender
}

func entry(t *testing.T, id string, p *model.EmailPayload) Entry {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return Entry{ID: id, Values: map[string]any{PayloadField: string(raw)}}
}

func basePayload() *model.EmailPayload {
	return &model.EmailPayload{
		ID:            "p-1",
		To:            []string{"a@x.com"},
		Subject:       "S",
		Text:          "T",
		SchemaVersion: model.SupportedSchemaVersion,
	}
}

func TestProcessEntry_Sent(t *testing.T) {
	svc, sender := newPipeline(t, email.Ok())
	stream := &fakeStream{}
	c := NewConsumer(stream, svc, Options{MaxRetries: 3}, logger.Nop())

	res := c.ProcessEntry(context.Background(), entry(t, "1-0", basePayload()))

	assert.Equal(t, model.OutcomeSent, res.Outcome)
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, []string{"1-0"}, stream.acked)
	assert.Empty(t, stream.added)
}

func TestProcessEntry_Duplicate(t *testing.T) {
	svc, sender := newPipeline(t, email.Ok())
	stream := &fakeStream{}
	c := NewConsumer(stream, svc, Options{}, logger.Nop())
	ctx := context.Background()

	require.Equal(t, model.OutcomeSent, c.ProcessEntry(ctx, entry(t, "1-0", basePayload())).Outcome)
	res := c.ProcessEntry(ctx, entry(t, "1-1", basePayload()))

	assert.Equal(t, model.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, []string{"1-0", "1-1"}, stream.acked)
}

func TestProcessEntry_RetriedBelowLimit(t *testing.T) {
	svc, _ := newPipeline(t, email.Fail("503"))
	stream := &fakeStream{}
	c := NewConsumer(stream, svc, Options{MaxRetries: 3}, logger.Nop())

	p := basePayload()
	p.Retries = 2
	res := c.ProcessEntry(context.Background(), entry(t, "1-0", p))

	assert.Equal(t, model.OutcomeRetried, res.Outcome)
	require.Len(t, stream.added, 1)
	assert.Equal(t, 3, stream.added[0].Retries)
	assert.NotEqual(t, "p-1", stream.added[0].ID)
	assert.NotEmpty(t, stream.added[0].ID)
	assert.Equal(t, []string{"1-0"}, stream.acked)
}

func TestProcessEntry_MaxRetriesExceeded(t *testing.T) {
	svc, _ := newPipeline(t, email.Fail("503"))
	stream := &fakeStream{}
	sink := &recordingSink{}
	c := NewConsumer(stream, svc, Options{MaxRetries: 3, DeadLetters: sink}, logger.Nop())

	p := basePayload()
	p.Retries = 3
	res := c.ProcessEntry(context.Background(), entry(t, "1-0", p))

	assert.Equal(t, model.OutcomeMaxRetriesExceeded, res.Outcome)
	assert.Empty(t, stream.added)
	assert.Equal(t, []string{"1-0"}, stream.acked)
	require.Len(t, sink.payloads, 1)
	assert.Equal(t, "p-1", sink.payloads[0].ID)
	assert.Contains(t, sink.reasons[0], "503")
}

func TestProcessEntry_RequeueFailureAcksAndDeadLetters(t *testing.T) {
	svc, _ := newPipeline(t, email.Fail("503"))
	stream := &fakeStream{addErr: errors.New("redis down")}
	sink := &recordingSink{}
	c := NewConsumer(stream, svc, Options{MaxRetries: 3, DeadLetters: sink}, logger.Nop())

	res := c.ProcessEntry(context.Background(), entry(t, "1-0", basePayload()))

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.True(t, res.Outcome.Terminal())
	assert.ErrorContains(t, res.Err, "redis down")
	assert.Equal(t, []string{"1-0"}, stream.acked)
	require.Len(t, sink.payloads, 1)
	assert.Contains(t, sink.reasons[0], "503")
}

func TestProcessEntry_DeliveryTimeoutIsRetried(t *testing.T) {
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(), time.Minute)
	svc := service.NewDeliveryService(guard, render.NewRegistry(), stalledSender{}, nil, "noreply@example.com", logger.Nop())
	stream := &fakeStream{}
	c := NewConsumer(stream, svc, Options{MaxRetries: 3, DeliveryTimeout: 50 * time.Millisecond}, logger.Nop())

	start := time.Now()
	res := c.ProcessEntry(context.Background(), entry(t, "1-0", basePayload()))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, model.OutcomeRetried, res.Outcome)
	require.Len(t, stream.added, 1)
	assert.Equal(t, 1, stream.added[0].Retries)
	assert.Equal(t, []string{"1-0"}, stream.acked)
}

func TestProcessEntry_ValidationFailure(t *testing.T) {
	svc, sender := newPipeline(t, email.Ok())
	stream := &fakeStream{}
	c := NewConsumer(stream, svc, Options{}, logger.Nop())
	ctx := context.Background()

	p := basePayload()
	p.To = nil
	res := c.ProcessEntry(ctx, entry(t, "1-0", p))
	assert.Equal(t, model.OutcomeFailed, res.Outcome)

	wrongType := Entry{ID: "1-1", Values: map[string]any{PayloadField: `{"to":"a@x.com","subject":"S","text":"T"}`}}
	res = c.ProcessEntry(ctx, wrongType)
	assert.Equal(t, model.OutcomeFailed, res.Outcome)

	assert.Zero(t, sender.calls)
	assert.Equal(t, []string{"1-0", "1-1"}, stream.acked)
}

func TestProcessEntry_Unparsable(t *testing.T) {
	svc, sender := newPipeline(t, email.Ok())
	stream := &fakeStream{}
	c := NewConsumer(stream, svc, Options{}, logger.Nop())
	ctx := context.Background()

	res := c.ProcessEntry(ctx, Entry{ID: "1-0", Values: map[string]any{PayloadField: "not json"}})
	assert.Equal(t, model.OutcomeSkipped, res.Outcome)

	res = c.ProcessEntry(ctx, Entry{ID: "1-1", Values: map[string]any{"other": "x"}})
	assert.Equal(t, model.OutcomeSkipped, res.Outcome)

	assert.Zero(t, sender.calls)
	assert.Empty(t, stream.acked)
}

func TestProcessEntry_RenderFailureIsTerminal(t *testing.T) {
	svc, sender := newPipeline(t, email.Ok())
	stream := &fakeStream{}
	c := NewConsumer(stream, svc, Options{}, logger.Nop())

	p := basePayload()
	p.Text = ""
	p.TemplateID = "missing"
	res := c.ProcessEntry(context.Background(), entry(t, "1-0", p))

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, render.ErrTemplateNotFound)
	assert.Zero(t, sender.calls)
	assert.Empty(t, stream.added)
	assert.Equal(t, []string{"1-0"}, stream.acked)
}

func TestProcessEntry_Panic(t *testing.T) {
	stream := &fakeStream{}
	c := NewConsumer(stream, panicDeliverer{}, Options{}, logger.Nop())

	res := c.ProcessEntry(context.Background(), entry(t, "1-0", basePayload()))

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Equal(t, []string{"1-0"}, stream.acked)
}

func TestProcessEntry_SchemaVersionWarnings(t *testing.T) {
	svc, _ := newPipeline(t, email.Ok())
	var buf bytes.Buffer
	c := NewConsumer(&fakeStream{}, svc, Options{}, logger.NewWithWriter(&buf))
	ctx := context.Background()

	p := basePayload()
	p.SchemaVersion = ""
	assert.Equal(t, model.OutcomeSent, c.ProcessEntry(ctx, entry(t, "1-0", p)).Outcome)
	assert.Contains(t, buf.String(), "missing schemaVersion")

	p = basePayload()
	p.Subject = "other"
	p.SchemaVersion = "2.0"
	assert.Equal(t, model.OutcomeSent, c.ProcessEntry(ctx, entry(t, "1-1", p)).Outcome)
	assert.Contains(t, buf.String(), "unknown schemaVersion")
}

func TestRun_ProcessesBatchesAndStops(t *testing.T) {
	svc, sender := newPipeline(t, email.Ok())
	second := basePayload()
	second.Subject = "second"
	stream := &fakeStream{batches: [][]Entry{
		{entry(t, "1-0", basePayload()), entry(t, "1-1", second)},
	}}
	c := NewConsumer(stream, svc, Options{}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.acked) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 2, sender.calls)
}

func TestRun_BacksOffOnReadError(t *testing.T) {
	svc, _ := newPipeline(t, email.Ok())
	stream := &fakeStream{readErr: errors.New("connection refused")}
	c := NewConsumer(stream, svc, Options{ErrorBackoff: 50 * time.Millisecond}, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.LessOrEqual(t, stream.reads, 4)
	assert.GreaterOrEqual(t, stream.reads, 2)
}

func TestRun_RetriesGroupCreation(t *testing.T) {
	svc, sender := newPipeline(t, email.Ok())
	stream := &fakeStream{
		groupErrs: []error{errors.New("connection refused"), errors.New("connection refused")},
		batches:   [][]Entry{{entry(t, "1-0", basePayload())}},
	}
	c := NewConsumer(stream, svc, Options{ErrorBackoff: 10 * time.Millisecond}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.acked) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, sender.calls)
	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.Equal(t, 3, stream.groupCalls)
}

func TestRun_GroupCreationStopsOnCancel(t *testing.T) {
	svc, _ := newPipeline(t, email.Ok())
	stream := &fakeStream{groupErrs: []error{errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down")}}
	c := NewConsumer(stream, svc, Options{ErrorBackoff: 20 * time.Millisecond}, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, c.Run(ctx))
	assert.Zero(t, stream.reads)
}

func TestRun_RecreatesGroupAfterNoGroup(t *testing.T) {
	svc, sender := newPipeline(t, email.Ok())
	stream := &fakeStream{
		readErrs: []error{errors.New("NOGROUP No such key 'email_events' or consumer group 'email_service_group'")},
		batches:  [][]Entry{{entry(t, "1-0", basePayload())}},
	}
	c := NewConsumer(stream, svc, Options{ErrorBackoff: 10 * time.Millisecond}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.acked) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, sender.calls)
	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.Equal(t, 2, stream.groupCalls)
}

package email

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mailjet/mailjet-apiv3-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailstream/mailstream/internal/config"
	"github.com/mailstream/mailstream/internal/logger"
	"github.com/mailstream/mailstream/internal/model"
)

func TestBuildMessage(t *testing.T) {
	p := &model.EmailPayload{
		To:      []string{"a@x.com", "b@x.com"},
		Subject: "S",
		Text:    "T",
		HTML:    "<p>T</p>",
		Attachments: []model.Attachment{
			{Filename: "a.pdf", MimeType: "application/pdf", Content: "QUJD"},
			{Filename: "blob", Content: "REVG"},
		},
	}

	msg := BuildMessage(p, "noreply@example.com")

	assert.Equal(t, "noreply@example.com", msg.From)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, msg.To)
	assert.Equal(t, "S", msg.Subject)
	assert.Equal(t, "T", msg.Text)
	assert.Equal(t, "<p>T</p>", msg.HTML)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, Attachment{Filename: "a.pdf", ContentType: "application/pdf", Base64Content: "QUJD"}, msg.Attachments[0])
	assert.Equal(t, "application/octet-stream", msg.Attachments[1].ContentType)

	msg.To[0] = "changed@x.com"
	assert.Equal(t, "a@x.com", p.To[0], "message must not alias the payload")
}

func TestMailjetSender(t *testing.T) {
	var got *mailjet.MessagesV31
	s := &MailjetSender{send: func(_ context.Context, m *mailjet.MessagesV31) (*mailjet.ResultsV31, error) {
		got = m
		return &mailjet.ResultsV31{ResultsV31: []mailjet.ResultV31{{Status: "success"}}}, nil
	}}

	res := s.Send(context.Background(), Message{
		From:        "noreply@example.com",
		To:          []string{"a@x.com"},
		Subject:     "S",
		Text:        "T",
		Attachments: []Attachment{{Filename: "a.txt", ContentType: "text/plain", Base64Content: "QQ=="}},
	})

	assert.True(t, res.Success)
	require.Len(t, got.Info, 1)
	info := got.Info[0]
	assert.Equal(t, "noreply@example.com", info.From.Email)
	assert.Equal(t, "a@x.com", (*info.To)[0].Email)
	assert.Equal(t, "S", info.Subject)
	assert.Equal(t, "T", info.TextPart)
	require.NotNil(t, info.Attachments)
	assert.Equal(t, "a.txt", (*info.Attachments)[0].Filename)
}

func TestMailjetSender_Failures(t *testing.T) {
	ctx := context.Background()

	s := &MailjetSender{send: func(context.Context, *mailjet.MessagesV31) (*mailjet.ResultsV31, error) {
		return nil, errors.New("503 service unavailable")
	}}
	res := s.Send(ctx, Message{To: []string{"a@x.com"}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "503")

	s = &MailjetSender{send: func(context.Context, *mailjet.MessagesV31) (*mailjet.ResultsV31, error) {
		return &mailjet.ResultsV31{ResultsV31: []mailjet.ResultV31{{Status: "error"}}}, nil
	}}
	res = s.Send(ctx, Message{To: []string{"a@x.com"}})
	assert.False(t, res.Success)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	res = s.Send(cancelled, Message{})
	assert.False(t, res.Success)
}

func TestNewMailjetSender_RequiresCredentials(t *testing.T) {
	_, err := NewMailjetSender(config.MailjetConfig{APISecret: "secret"}, time.Second)
	assert.Error(t, err)
}

// stalledMailjet accepts requests and never answers until the client gives up.
func stalledMailjet(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMailjetSender_ClientTimeout(t *testing.T) {
	srv := stalledMailjet(t)
	s, err := NewMailjetSender(config.MailjetConfig{APIKey: "k", APISecret: "s", BaseURL: srv.URL + "/v3"}, 100*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	res := s.Send(context.Background(), Message{From: "a@x.com", To: []string{"b@x.com"}, Subject: "S", Text: "T"})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "mailjet")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestMailjetSender_ContextDeadline(t *testing.T) {
	srv := stalledMailjet(t)
	s, err := NewMailjetSender(config.MailjetConfig{APIKey: "k", APISecret: "s", BaseURL: srv.URL + "/v3"}, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := s.Send(ctx, Message{From: "a@x.com", To: []string{"b@x.com"}, Subject: "S", Text: "T"})

	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestMailjetSender_Delivers(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Messages":[{"Status":"success"}]}`))
	}))
	defer srv.Close()

	s, err := NewMailjetSender(config.MailjetConfig{APIKey: "k", APISecret: "s", BaseURL: srv.URL + "/v3"}, time.Second)
	require.NoError(t, err)

	res := s.Send(context.Background(), Message{From: "a@x.com", To: []string{"b@x.com"}, Subject: "S", Text: "T"})
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "/v3.1/send", path)
}

func TestBuildMIME(t *testing.T) {
	plain := buildMIME(Message{From: "a@x.com", To: []string{"b@x.com", "c@x.com"}, Subject: "S", Text: "hello"}, "")
	assert.Contains(t, plain, "To: b@x.com, c@x.com\r\n")
	assert.Contains(t, plain, "Content-Type: text/plain; charset=UTF-8\r\n\r\nhello")

	named := buildMIME(Message{From: "a@x.com", To: []string{"b@x.com"}, HTML: "<b>x</b>", Text: "x"}, "Mailer")
	assert.Contains(t, named, "From: Mailer <a@x.com>")
	assert.Contains(t, named, "multipart/alternative")

	withFile := buildMIME(Message{
		From:        "a@x.com",
		To:          []string{"b@x.com"},
		Text:        "see attached",
		Attachments: []Attachment{{Filename: "r.pdf", ContentType: "application/pdf", Base64Content: "QUJD"}},
	}, "")
	assert.Contains(t, withFile, "multipart/mixed")
	assert.Contains(t, withFile, "filename=\"r.pdf\"")
	assert.True(t, strings.HasSuffix(withFile, "--"+mixedBoundary+"--"))
}

type countingSender struct{ calls int }

func (c *countingSender) Send(context.Context, Message) Result {
	c.calls++
	return Ok()
}

func TestPacedSender(t *testing.T) {
	next := &countingSender{}
	assert.Same(t, Sender(next), NewPacedSender(next, 0), "zero rate disables pacing")

	paced := NewPacedSender(next, 1)
	ctx := context.Background()
	assert.True(t, paced.Send(ctx, Message{}).Success)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	res := paced.Send(short, Message{})
	assert.False(t, res.Success, "second call inside the same second must wait past the deadline")
	assert.Equal(t, 1, next.calls)
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(logger.NewWithWriter(&buf))

	res := s.Send(context.Background(), Message{To: []string{"test@example.com"}, Subject: "Test Subject"})

	assert.True(t, res.Success)
	assert.Contains(t, buf.String(), "test@example.com")
	assert.Contains(t, buf.String(), "Test Subject")
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	s, err := NewFromConfig(ctx, config.EmailConfig{Provider: "log"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)

	s, err = NewFromConfig(ctx, config.EmailConfig{Provider: "log", RatePerSecond: 5}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &PacedSender{}, s)

	_, err = NewFromConfig(ctx, config.EmailConfig{Provider: "carrier-pigeon"}, logger.Nop())
	assert.Error(t, err)

	_, err = NewFromConfig(ctx, config.EmailConfig{Provider: "mailjet"}, logger.Nop())
	assert.Error(t, err)
}

func TestSendersImplementInterface(t *testing.T) {
	var _ Sender = (*MailjetSender)(nil)
	var _ Sender = (*GmailSender)(nil)
	var _ Sender = (*LogSender)(nil)
	var _ Sender = (*PacedSender)(nil)
}

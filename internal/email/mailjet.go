package email

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mailjet/mailjet-apiv3-go/v4"

	"github.com/mailstream/mailstream/internal/config"
)

// DefaultSendTimeout bounds a single provider call when none is configured
const DefaultSendTimeout = 30 * time.Second

// MailjetSender implements Sender using the Mailjet v3.1 send API.
type MailjetSender struct {
	send func(context.Context, *mailjet.MessagesV31) (*mailjet.ResultsV31, error)
}

// NewMailjetSender creates a new MailjetSender. Every request is bounded by
// timeout and by the context passed to Send.
func NewMailjetSender(cfg config.MailjetConfig, timeout time.Duration) (*MailjetSender, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("mailjet: api key and secret are required")
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	client := mailjet.NewMailjetClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.SetBaseURL(cfg.BaseURL)
	}
	client.SetClient(&http.Client{Timeout: timeout})

	return &MailjetSender{
		send: func(ctx context.Context, m *mailjet.MessagesV31) (*mailjet.ResultsV31, error) {
			return client.SendMailV31(m, mailjet.WithContext(ctx))
		},
	}, nil
}

// Send sends an email via Mailjet.
func (s *MailjetSender) Send(ctx context.Context, msg Message) Result {
	if err := ctx.Err(); err != nil {
		return Fail(err.Error())
	}

	res, err := s.send(ctx, &mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{toMailjet(msg)}})
	if err != nil {
		return Fail(fmt.Sprintf("mailjet: %v", err))
	}
	if res == nil {
		return Fail("mailjet: empty response")
	}

	for _, r := range res.ResultsV31 {
		if !strings.EqualFold(r.Status, "success") {
			return Fail(fmt.Sprintf("mailjet: message status %q", r.Status))
		}
	}
	return Ok()
}

func toMailjet(msg Message) mailjet.InfoMessagesV31 {
	to := make(mailjet.RecipientsV31, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, mailjet.RecipientV31{Email: addr})
	}

	info := mailjet.InfoMessagesV31{
		From:     &mailjet.RecipientV31{Email: msg.From},
		To:       &to,
		Subject:  msg.Subject,
		TextPart: msg.Text,
		HTMLPart: msg.HTML,
	}

	if len(msg.Attachments) > 0 {
		attachments := make(mailjet.AttachmentsV31, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			attachments = append(attachments, mailjet.AttachmentV31{
				ContentType:   a.ContentType,
				Filename:      a.Filename,
				Base64Content: a.Base64Content,
			})
		}
		info.Attachments = &attachments
	}

	return info
}

package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	altBoundary   = "boundary_mailstream_alt"
	mixedBoundary = "boundary_mailstream_mixed"
)

// GmailConfig holds the configuration for the Gmail email sender.
type GmailConfig struct {
	// CredentialsJSON is the OAuth2 service account credentials JSON.
	CredentialsJSON string
	// SenderAddress is the email address emails are sent from.
	SenderAddress string
	// SenderName is the display name for the sender.
	SenderName string
}

// GmailSender implements Sender using the Gmail API.
type GmailSender struct {
	service    *gmail.Service
	senderName string
}

// NewGmailSender creates a new GmailSender.
// It expects a service account credentials JSON with domain-wide delegation
// that may impersonate the sender mailbox.
func NewGmailSender(ctx context.Context, cfg GmailConfig) (*GmailSender, error) {
	if cfg.CredentialsJSON == "" {
		return nil, fmt.Errorf("gmail: credentials JSON is required")
	}
	if cfg.SenderAddress == "" {
		return nil, fmt.Errorf("gmail: sender address is required")
	}

	jwtConfig, err := google.JWTConfigFromJSON([]byte(cfg.CredentialsJSON), gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to parse credentials: %w", err)
	}
	jwtConfig.Subject = cfg.SenderAddress

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}

	return &GmailSender{service: svc, senderName: cfg.SenderName}, nil
}

// NewGmailSenderWithToken creates a GmailSender using OAuth2 client credentials + refresh token.
// This is useful for personal Gmail accounts without domain-wide delegation.
func NewGmailSenderWithToken(ctx context.Context, clientID, clientSecret, refreshToken, senderName string) (*GmailSender, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("gmail: refresh token is required")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}

	client := oauthCfg.Client(ctx, &oauth2.Token{RefreshToken: refreshToken})

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}

	return &GmailSender{service: svc, senderName: senderName}, nil
}

// Send sends an email via the Gmail API.
func (g *GmailSender) Send(ctx context.Context, msg Message) Result {
	raw := buildMIME(msg, g.senderName)

	gmailMsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}

	if _, err := g.service.Users.Messages.Send("me", gmailMsg).Context(ctx).Do(); err != nil {
		return Fail(fmt.Sprintf("gmail: failed to send email: %v", err))
	}
	return Ok()
}

// buildMIME renders msg as an RFC 5322 message
func buildMIME(msg Message, senderName string) string {
	from := msg.From
	if senderName != "" {
		from = fmt.Sprintf("%s <%s>", senderName, msg.From)
	}

	headers := []string{
		"From: " + from,
		"To: " + strings.Join(msg.To, ", "),
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
	}

	body := bodyPart(msg)
	if len(msg.Attachments) == 0 {
		return strings.Join(append(headers, body...), "\r\n")
	}

	lines := append(headers,
		"Content-Type: multipart/mixed; boundary="+mixedBoundary,
		"",
		"--"+mixedBoundary,
	)
	lines = append(lines, body...)
	for _, a := range msg.Attachments {
		lines = append(lines,
			"",
			"--"+mixedBoundary,
			"Content-Type: "+a.ContentType+"; name=\""+a.Filename+"\"",
			"Content-Disposition: attachment; filename=\""+a.Filename+"\"",
			"Content-Transfer-Encoding: base64",
			"",
			a.Base64Content,
		)
	}
	lines = append(lines, "", "--"+mixedBoundary+"--")
	return strings.Join(lines, "\r\n")
}

// bodyPart returns the Content-Type header, a blank line and the body
func bodyPart(msg Message) []string {
	switch {
	case msg.HTML != "" && msg.Text != "":
		return []string{
			"Content-Type: multipart/alternative; boundary=" + altBoundary,
			"",
			"--" + altBoundary,
			"Content-Type: text/plain; charset=UTF-8",
			"Content-Transfer-Encoding: 7bit",
			"",
			msg.Text,
			"",
			"--" + altBoundary,
			"Content-Type: text/html; charset=UTF-8",
			"Content-Transfer-Encoding: 7bit",
			"",
			msg.HTML,
			"",
			"--" + altBoundary + "--",
		}
	case msg.HTML != "":
		return []string{"Content-Type: text/html; charset=UTF-8", "", msg.HTML}
	default:
		return []string{"Content-Type: text/plain; charset=UTF-8", "", msg.Text}
	}
}

package email

import (
	"context"
	"fmt"

	"github.com/mailstream/mailstream/internal/config"
	"github.com/mailstream/mailstream/internal/logger"
)

// NewFromConfig builds the configured provider, wrapped with pacing
func NewFromConfig(ctx context.Context, cfg config.EmailConfig, log *logger.Logger) (Sender, error) {
	var (
		sender Sender
		err    error
	)

	switch cfg.Provider {
	case "mailjet":
		sender, err = NewMailjetSender(cfg.Mailjet, cfg.SendTimeout)
	case "gmail":
		if cfg.Gmail.RefreshToken != "" {
			sender, err = NewGmailSenderWithToken(ctx, cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.Gmail.RefreshToken, cfg.Gmail.SenderName)
		} else {
			sender, err = NewGmailSender(ctx, GmailConfig{
				CredentialsJSON: cfg.Gmail.CredentialsJSON,
				SenderAddress:   cfg.DefaultFrom,
				SenderName:      cfg.Gmail.SenderName,
			})
		}
	case "log":
		sender = NewLogSender(log)
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewPacedSender(sender, cfg.RatePerSecond), nil
}

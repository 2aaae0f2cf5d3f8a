package email

import "github.com/mailstream/mailstream/internal/model"

const defaultContentType = "application/octet-stream"

// BuildMessage converts a payload into a wire message sent from defaultFrom
func BuildMessage(p *model.EmailPayload, defaultFrom string) Message {
	msg := Message{
		From:    defaultFrom,
		To:      append([]string(nil), p.To...),
		Subject: p.Subject,
		Text:    p.Text,
		HTML:    p.HTML,
	}

	for _, a := range p.Attachments {
		contentType := a.MimeType
		if contentType == "" {
			contentType = defaultContentType
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:      a.Filename,
			ContentType:   contentType,
			Base64Content: a.Content,
		})
	}

	return msg
}

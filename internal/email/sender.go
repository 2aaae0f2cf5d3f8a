package email

import "context"

// Sender is the interface that all email providers must implement.
// Send never returns a Go error: network failures and non-2xx provider
// responses are reported in the Result. Senders do not retry.
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

// Message is the provider-neutral wire message
type Message struct {
	From        string
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment is a file attached to a Message
type Attachment struct {
	Filename      string
	ContentType   string
	Base64Content string
}

// Result is the outcome of one provider call
type Result struct {
	Success bool
	Error   string
}

// Ok is a successful Result
func Ok() Result {
	return Result{Success: true}
}

// Fail is a failed Result carrying reason
func Fail(reason string) Result {
	return Result{Success: false, Error: reason}
}

package mailstream

// Attachment is a base64 encoded file sent with an email.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType,omitempty"`
	Content  string `json:"content"`
}

// Email is the payload accepted by /email/send and /email/enqueue.
type Email struct {
	ID              string         `json:"id,omitempty"`
	To              []string       `json:"to"`
	Subject         string         `json:"subject"`
	Text            string         `json:"text,omitempty"`
	HTML            string         `json:"html,omitempty"`
	TemplateID      string         `json:"templateId,omitempty"`
	TemplateVersion string         `json:"templateVersion,omitempty"`
	TemplateVars    map[string]any `json:"templateVars,omitempty"`
	IdempotencyKey  string         `json:"idempotencyKey,omitempty"`
	SchemaVersion   string         `json:"schemaVersion,omitempty"`
	Attachments     []Attachment   `json:"attachments,omitempty"`
}

// SendResult is returned by Send. Status is "sent" or "duplicate_ignored".
type SendResult struct {
	Status string `json:"status"`
}

// Duplicate reports whether the server suppressed the email as a repeat.
func (r *SendResult) Duplicate() bool {
	return r.Status == "duplicate_ignored"
}

// EnqueueResult is returned by Enqueue.
type EnqueueResult struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	EntryID string `json:"entryId"`
}

// BulkRequest is the body of /email/bulk-template. Placeholders such as
// {{name}} or {{2}} are filled from each row.
type BulkRequest struct {
	Headers              []string   `json:"headers"`
	Rows                 [][]string `json:"rows"`
	Subject              string     `json:"subject"`
	Text                 string     `json:"text,omitempty"`
	HTML                 string     `json:"html,omitempty"`
	IdempotencyKeyPrefix string     `json:"idempotencyKeyPrefix,omitempty"`
	Enqueue              bool       `json:"enqueue,omitempty"`
}

// RowResult is the outcome of one bulk row.
type RowResult struct {
	Row     int    `json:"row"`
	Email   string `json:"email"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	EntryID string `json:"entryId,omitempty"`
}

// BulkSummary is returned by the bulk endpoints.
type BulkSummary struct {
	Total   int            `json:"total"`
	Results []RowResult    `json:"results"`
	Counts  map[string]int `json:"counts"`
}

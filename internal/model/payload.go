package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// SupportedSchemaVersion is the payload shape this build was written against.
// Other versions are processed anyway; consumers only warn.
const SupportedSchemaVersion = "1.0"

// ErrUnparsable is returned when raw bytes are not a JSON object at all
var ErrUnparsable = errors.New("payload is not a JSON object")

// Attachment is a base64 encoded file carried with an email
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType,omitempty"`
	Content  string `json:"content"`
}

// EmailPayload is the unit of work shared by the HTTP ingress and the stream
type EmailPayload struct {
	ID              string         `json:"id,omitempty"`
	To              []string       `json:"to"`
	Subject         string         `json:"subject"`
	Text            string         `json:"text,omitempty"`
	HTML            string         `json:"html,omitempty"`
	TemplateID      string         `json:"templateId,omitempty"`
	TemplateVersion string         `json:"templateVersion,omitempty"`
	TemplateVars    map[string]any `json:"templateVars,omitempty"`
	IdempotencyKey  string         `json:"idempotencyKey,omitempty"`
	Retries         int            `json:"retries"`
	SchemaVersion   string         `json:"schemaVersion,omitempty"`
	Attachments     []Attachment   `json:"attachments,omitempty"`
}

// DedupKey returns the explicit idempotency key, or one derived from the
// recipients, subject, template and retry generation.
func (p *EmailPayload) DedupKey() string {
	if p.IdempotencyKey != "" {
		return p.IdempotencyKey
	}
	return strings.Join(p.To, ",") + "|" + p.Subject + "|" + p.TemplateID + "|" + strconv.Itoa(p.Retries)
}

// HasBody reports whether text or HTML content is already present
func (p *EmailPayload) HasBody() bool {
	return p.Text != "" || p.HTML != ""
}

// NeedsRender reports whether the body must come from the template registry
func (p *EmailPayload) NeedsRender() bool {
	return !p.HasBody() && p.TemplateID != ""
}

// Clone returns a copy that can be mutated without touching p
func (p *EmailPayload) Clone() *EmailPayload {
	c := *p
	c.To = append([]string(nil), p.To...)
	c.Attachments = append([]Attachment(nil), p.Attachments...)
	if p.TemplateVars != nil {
		c.TemplateVars = make(map[string]any, len(p.TemplateVars))
		for k, v := range p.TemplateVars {
			c.TemplateVars[k] = v
		}
	}
	return &c
}

// Validate checks the payload shape before any component touches it
func (p *EmailPayload) Validate() error {
	err := validation.ValidateStruct(p,
		validation.Field(&p.To, validation.Required, validation.Each(validation.Required, is.EmailFormat)),
		validation.Field(&p.Subject, validation.Required, validation.Length(1, 998)),
		validation.Field(&p.Retries, validation.Min(0)),
		validation.Field(&p.Text, validation.When(p.HTML == "" && p.TemplateID == "",
			validation.Required.Error("one of text, html or templateId is required"))),
	)

	fields := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	} else if err != nil {
		return err
	}

	for i, a := range p.Attachments {
		if strings.TrimSpace(a.Filename) == "" {
			fields[fmt.Sprintf("attachments.%d.filename", i)] = "cannot be blank"
		}
		if err := is.Base64.Validate(a.Content); err != nil || a.Content == "" {
			fields[fmt.Sprintf("attachments.%d.content", i)] = "must be base64 encoded"
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// ValidationError describes malformed or missing payload fields.
// It is never retried.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid email payload: " + strings.Join(parts, "; ")
}

// ParsePayload decodes raw JSON. Bytes that are not a JSON object return
// ErrUnparsable; an object whose fields have the wrong types returns a
// ValidationError so the entry is treated as tracked but invalid.
func ParsePayload(raw []byte) (*EmailPayload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || probe == nil {
		return nil, ErrUnparsable
	}

	var p EmailPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		field := "payload"
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			field = typeErr.Field
		}
		return nil, &ValidationError{Fields: map[string]string{field: "has the wrong type"}}
	}
	return &p, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailstream/mailstream/internal/model"
	"github.com/mailstream/mailstream/internal/render"
	"github.com/mailstream/mailstream/internal/sheet"
)

// ErrSheetSourceRequired is returned when neither a file nor a URL is given
var ErrSheetSourceRequired = errors.New("a sheet file or sheet url is required")

// BulkTemplate holds the per-row templates for a bulk send
type BulkTemplate struct {
	Subject string `json:"subject"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
	// IdempotencyKeyPrefix, when set, gives every row the explicit key
	// "<prefix>:<recipient>" so re-submitting the same batch is suppressed.
	IdempotencyKeyPrefix string `json:"idempotencyKeyPrefix,omitempty"`
	// Enqueue places rows on the stream instead of sending inline
	Enqueue bool `json:"enqueue,omitempty"`
}

// RowResult is the outcome for one data row of a bulk send
type RowResult struct {
	Row     int                   `json:"row"`
	Email   string                `json:"email"`
	Status  model.DeliveryOutcome `json:"status"`
	Reason  string                `json:"reason,omitempty"`
	EntryID string                `json:"entryId,omitempty"`
}

// BulkSummary counts row outcomes
type BulkSummary struct {
	Total   int                           `json:"total"`
	Results []RowResult                   `json:"results"`
	Counts  map[model.DeliveryOutcome]int `json:"counts"`
}

// SheetSource is either an uploaded file or a hosted sheet URL
type SheetSource struct {
	Data      []byte
	Filename  string
	URL       string
	Allowlist []string
}

// SheetReader fetches hosted sheets
type SheetReader interface {
	FromURL(ctx context.Context, rawURL string, allowlist []string) (*model.SheetMatrix, error)
}

// SendBulk renders the templates against every row and sends or enqueues one
// payload per row. Rows are processed in order; a failing row does not stop
// the batch. An error is returned only when the input is rejected up front.
func (s *DeliveryService) SendBulk(ctx context.Context, m *model.SheetMatrix, tpl BulkTemplate) (*BulkSummary, error) {
	if m == nil || len(m.Headers) == 0 {
		return nil, sheet.ErrNoHeaders
	}
	if len(m.Rows) == 0 {
		return nil, sheet.ErrNoRows
	}
	emailIdx, err := sheet.RequireEmailColumn(m.Headers)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(tpl.Subject) == "" {
		return nil, &model.ValidationError{Fields: map[string]string{"subject": "cannot be blank"}}
	}
	if tpl.Text == "" && tpl.HTML == "" {
		return nil, &model.ValidationError{Fields: map[string]string{"text": "one of text or html is required"}}
	}

	summary := &BulkSummary{
		Total:   len(m.Rows),
		Results: make([]RowResult, 0, len(m.Rows)),
		Counts:  make(map[model.DeliveryOutcome]int),
	}

	for i, row := range m.Rows {
		if len(row) < len(m.Headers) {
			padded := make([]string, len(m.Headers))
			copy(padded, row)
			row = padded
		}
		res := s.sendRow(ctx, i+1, m.Headers, row, emailIdx, tpl)
		summary.Results = append(summary.Results, res)
		summary.Counts[res.Status]++
	}

	s.log.Info().
		Int("rows", summary.Total).
		Int("sent", summary.Counts[model.OutcomeSent]).
		Int("failed", summary.Counts[model.OutcomeFailed]).
		Int("duplicate", summary.Counts[model.OutcomeDuplicate]).
		Msg("bulk send finished")

	return summary, nil
}

// SendSheet reads the sheet from src and passes it to SendBulk
func (s *DeliveryService) SendSheet(ctx context.Context, reader SheetReader, src SheetSource, tpl BulkTemplate) (*BulkSummary, error) {
	var (
		m   *model.SheetMatrix
		err error
	)
	switch {
	case len(src.Data) > 0:
		m, err = sheet.FromFile(src.Data, src.Filename)
	case src.URL != "":
		m, err = reader.FromURL(ctx, src.URL, src.Allowlist)
	default:
		return nil, ErrSheetSourceRequired
	}
	if err != nil {
		return nil, err
	}
	return s.SendBulk(ctx, m, tpl)
}

func (s *DeliveryService) sendRow(ctx context.Context, n int, headers, row []string, emailIdx int, tpl BulkTemplate) (res RowResult) {
	recipient := strings.TrimSpace(row[emailIdx])
	res = RowResult{Row: n, Email: recipient}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Int("row", n).Msg("bulk row panicked")
			res.Status = model.OutcomeFailed
			res.Reason = fmt.Sprintf("internal error: %v", r)
		}
	}()

	p := &model.EmailPayload{
		To:            []string{recipient},
		Subject:       render.RenderRow(tpl.Subject, headers, row),
		Text:          render.RenderRow(tpl.Text, headers, row),
		HTML:          render.RenderRow(tpl.HTML, headers, row),
		SchemaVersion: model.SupportedSchemaVersion,
	}
	if tpl.IdempotencyKeyPrefix != "" {
		p.IdempotencyKey = tpl.IdempotencyKeyPrefix + ":" + strings.ToLower(recipient)
	}

	if tpl.Enqueue {
		entryID, err := s.Enqueue(ctx, p)
		if err != nil {
			res.Status = model.OutcomeFailed
			res.Reason = err.Error()
			return res
		}
		res.Status = model.OutcomeQueued
		res.EntryID = entryID
		return res
	}

	out := s.Deliver(ctx, p)
	res.Status = out.Outcome
	res.Reason = out.Reason
	return res
}

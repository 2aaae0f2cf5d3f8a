package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mailstream/mailstream/internal/fetchguard"
	"github.com/mailstream/mailstream/internal/model"
	"github.com/mailstream/mailstream/internal/render"
	"github.com/mailstream/mailstream/internal/response"
	"github.com/mailstream/mailstream/internal/service"
	"github.com/mailstream/mailstream/internal/sheet"
)

const defaultMaxUploadBytes = 5 << 20

// SendEmail handles POST /email/send
// Runs one payload through dedup, rendering and the provider.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var p model.EmailPayload
	if err := readJSON(r, &p); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	res := h.delivery.Deliver(r.Context(), &p)
	switch res.Outcome {
	case model.OutcomeSent:
		response.JSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
		return
	case model.OutcomeDuplicate:
		response.JSON(w, http.StatusAccepted, map[string]string{"status": "duplicate_ignored"})
		return
	}

	var (
		verr *model.ValidationError
		perr *service.ProviderError
	)
	switch {
	case errors.As(res.Err, &verr):
		response.ErrorWithDetails(w, http.StatusBadRequest, "validation_failed", "Invalid email payload", verr.Fields)
	case errors.Is(res.Err, render.ErrTemplateNotFound):
		response.Error(w, http.StatusBadRequest, "template_not_found", res.Reason)
	case errors.As(res.Err, &perr):
		h.log.Warn().Str("reason", perr.Reason).Int("recipients", len(p.To)).Msg("provider rejected email")
		response.Error(w, http.StatusBadGateway, "send_failed", "Email provider rejected the message")
	default:
		h.log.Error().Err(res.Err).Msg("email delivery failed")
		response.Error(w, http.StatusInternalServerError, "internal_error", "Failed to send email")
	}
}

// EnqueueEmail handles POST /email/enqueue
// Places a validated payload on the stream for the consumer.
func (h *Handler) EnqueueEmail(w http.ResponseWriter, r *http.Request) {
	var p model.EmailPayload
	if err := readJSON(r, &p); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	entryID, err := h.delivery.Enqueue(r.Context(), &p)
	if err != nil {
		var verr *model.ValidationError
		switch {
		case errors.As(err, &verr):
			response.ErrorWithDetails(w, http.StatusBadRequest, "validation_failed", "Invalid email payload", verr.Fields)
		case errors.Is(err, service.ErrQueueUnavailable):
			response.Error(w, http.StatusServiceUnavailable, "service_unavailable", "Queue is not configured")
		default:
			h.log.Error().Err(err).Msg("enqueue failed")
			response.Error(w, http.StatusInternalServerError, "internal_error", "Failed to enqueue email")
		}
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{
		"status":  string(model.OutcomeQueued),
		"id":      p.ID,
		"entryId": entryID,
	})
}

type bulkTemplateRequest struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
	service.BulkTemplate
}

// BulkTemplate handles POST /email/bulk-template
// Sends one email per JSON row, rendering placeholders from the row cells.
func (h *Handler) BulkTemplate(w http.ResponseWriter, r *http.Request) {
	var req bulkTemplateRequest
	if err := readJSON(r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	m := &model.SheetMatrix{Headers: req.Headers, Rows: make([][]string, len(req.Rows))}
	for i, row := range req.Rows {
		m.Rows[i] = make([]string, len(row))
		for j, cell := range row {
			m.Rows[i][j] = cellString(cell)
		}
	}

	summary, err := h.delivery.SendBulk(r.Context(), m, req.BulkTemplate)
	if err != nil {
		h.writeBulkError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, summary)
}

// BulkTemplateSheet handles POST /email/bulk-template-sheet
// Accepts a multipart upload in the "sheet" field or a hosted sheet in
// "sheetUrl", plus the template fields.
func (h *Handler) BulkTemplateSheet(w http.ResponseWriter, r *http.Request) {
	maxUpload := h.cfg.Sheet.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	// Leave room for the other form fields.
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+1<<20)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			response.Error(w, http.StatusRequestEntityTooLarge, "file_too_large", fmt.Sprintf("Sheet exceeds %d bytes", maxUpload))
			return
		}
		response.Error(w, http.StatusBadRequest, "invalid_request", "Expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	enqueue, _ := strconv.ParseBool(r.FormValue("enqueue"))
	tpl := service.BulkTemplate{
		Subject:              r.FormValue("subject"),
		Text:                 r.FormValue("text"),
		HTML:                 r.FormValue("html"),
		IdempotencyKeyPrefix: r.FormValue("idempotencyKeyPrefix"),
		Enqueue:              enqueue,
	}
	src := service.SheetSource{
		URL:       strings.TrimSpace(r.FormValue("sheetUrl")),
		Allowlist: h.cfg.Sheet.URLAllowlist,
	}

	file, header, err := r.FormFile("sheet")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUpload+1))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid_request", "Failed to read uploaded sheet")
			return
		}
		if int64(len(data)) > maxUpload {
			response.Error(w, http.StatusRequestEntityTooLarge, "file_too_large", fmt.Sprintf("Sheet exceeds %d bytes", maxUpload))
			return
		}
		src.Data = data
		src.Filename = header.Filename
	case !errors.Is(err, http.ErrMissingFile):
		response.Error(w, http.StatusBadRequest, "invalid_request", "Invalid sheet upload")
		return
	}

	summary, err := h.delivery.SendSheet(r.Context(), h.sheets, src, tpl)
	if err != nil {
		h.writeBulkError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, summary)
}

func (h *Handler) writeBulkError(w http.ResponseWriter, err error) {
	var (
		verr  *model.ValidationError
		serr  *fetchguard.SecurityError
		parse *sheet.ParseError
	)
	switch {
	case errors.As(err, &verr):
		response.ErrorWithDetails(w, http.StatusBadRequest, "validation_failed", "Invalid bulk template", verr.Fields)
	case errors.As(err, &serr):
		h.log.Warn().Str("reason", string(serr.Reason)).Msg("sheet url rejected")
		response.ErrorWithDetails(w, http.StatusBadRequest, "url_rejected", "Sheet URL is not allowed",
			map[string]string{"reason": string(serr.Reason)})
	case errors.As(err, &parse):
		response.Error(w, http.StatusBadRequest, "invalid_sheet", parse.Error())
	case errors.Is(err, sheet.ErrNoHeaders),
		errors.Is(err, sheet.ErrNoRows),
		errors.Is(err, sheet.ErrMissingEmailColumn),
		errors.Is(err, sheet.ErrURLRequired),
		errors.Is(err, service.ErrSheetSourceRequired):
		response.Error(w, http.StatusBadRequest, "invalid_sheet", err.Error())
	case errors.Is(err, sheet.ErrRemoteDisabled):
		response.Error(w, http.StatusBadRequest, "remote_disabled", "Remote sheet URLs are disabled")
	case errors.Is(err, fetchguard.ErrTooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "file_too_large", "Remote sheet exceeds the size limit")
	case errors.Is(err, fetchguard.ErrFetchFailed):
		response.Error(w, http.StatusBadGateway, "fetch_failed", "Failed to download the sheet")
	default:
		h.log.Error().Err(err).Msg("bulk send failed")
		response.Error(w, http.StatusInternalServerError, "internal_error", "Failed to process bulk send")
	}
}

func cellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case json.Number:
		return c.String()
	default:
		return fmt.Sprint(c)
	}
}

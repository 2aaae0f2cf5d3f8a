package router

import (
	"net/http"

	"github.com/mailstream/mailstream/internal/handler"
	"github.com/mailstream/mailstream/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	// Email routes require the service token
	auth := mw.ServiceAuth
	bulkRateLimit := mw.BulkRateLimit()

	mux.Handle("POST /email/send", auth(http.HandlerFunc(h.SendEmail)))
	mux.Handle("POST /email/enqueue", auth(http.HandlerFunc(h.EnqueueEmail)))
	mux.Handle("POST /email/bulk-template", auth(bulkRateLimit(http.HandlerFunc(h.BulkTemplate))))
	mux.Handle("POST /email/bulk-template-sheet", auth(bulkRateLimit(http.HandlerFunc(h.BulkTemplateSheet))))

	// Apply middleware stack
	var handler http.Handler = mux

	// Request logging
	handler = mw.Logger(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}

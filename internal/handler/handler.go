package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mailstream/mailstream/internal/config"
	"github.com/mailstream/mailstream/internal/logger"
	"github.com/mailstream/mailstream/internal/service"
)

// HealthChecker is a dependency that can report whether it is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	log      *logger.Logger
	cfg      *config.Config
	delivery *service.DeliveryService
	sheets   service.SheetReader
	checks   map[string]HealthChecker
}

// New creates a new Handler instance. checks maps a dependency name to its
// health probe and may be empty.
func New(log *logger.Logger, cfg *config.Config, delivery *service.DeliveryService, sheets service.SheetReader, checks map[string]HealthChecker) *Handler {
	return &Handler{
		log:      log.WithComponent("http"),
		cfg:      cfg,
		delivery: delivery,
		sheets:   sheets,
		checks:   checks,
	}
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	return decoder.Decode(v)
}

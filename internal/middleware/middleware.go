package middleware

import (
	"github.com/mailstream/mailstream/internal/config"
	"github.com/mailstream/mailstream/internal/database"
	"github.com/mailstream/mailstream/internal/logger"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb *database.Redis
	log *logger.Logger
	cfg *config.Config
}

// New creates a new Middleware instance. rdb may be nil, which disables
// rate limiting.
func New(rdb *database.Redis, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		rdb: rdb,
		log: log,
		cfg: cfg,
	}
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RouterConfig holds the dependencies needed to build the HTTP router.
type RouterConfig struct {
	Dispatcher  Dispatcher
	ServiceName string
	Logger      *zap.Logger
}

// NewRouter builds the agent's Chi router: POST /jobs, POST
// /jobs/{jobId}/cancel, GET /healthz, GET /.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	jobHandler := NewJobHandler(cfg.Dispatcher, cfg.Logger)
	healthHandler := NewHealthHandler(cfg.Dispatcher, cfg.ServiceName)

	r.Post("/jobs", jobHandler.Dispatch)
	r.Post("/jobs/{jobId}/cancel", jobHandler.Cancel)
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/", healthHandler.Root)

	return r
}

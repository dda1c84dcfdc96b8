package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upendohq/idhini/internal/action"
	"github.com/upendohq/idhini/internal/config"
	"github.com/upendohq/idhini/internal/lookup"
	"github.com/upendohq/idhini/internal/observability"
	"github.com/upendohq/idhini/model"
)

// Dependencies wires the router to the rest of the application.
type Dependencies struct {
	Config     *config.Config
	Logger     *zap.Logger
	Backend    model.AssetService
	Dispatcher *action.Dispatcher
	Lookups    *lookup.TechnicianProvider
	Metrics    *observability.Metrics

	// Authenticate verifies the bearer token and stores claims in the
	// context. Swappable for a stub in tests.
	Authenticate func(http.Handler) http.Handler

	Readiness observability.ReadinessChecks
}

// NewRouter builds the full HTTP surface: liveness, readiness, and metrics
// unauthenticated; everything under /ui/approvals and /ui/lookups behind
// JWT authentication.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}

	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	handlers := NewHandlers(deps.Backend, deps.Dispatcher, deps.Lookups, deps.Logger)

	r.Group(func(r chi.Router) {
		r.Use(deps.Authenticate)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(RequestLogging(deps.Logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Route("/ui/approvals/{workflowId}", func(r chi.Router) {
			r.Get("/", handlers.HandleApprovalDetail)
			r.Get("/history", handlers.HandleApprovalHistory)
			r.Post("/approve", handlers.HandleApprove)
			r.Post("/reject", handlers.HandleReject)
			r.Put("/assignment", handlers.HandleAssignment)
		})
		r.Get("/ui/lookups/technicians", handlers.HandleTechnicianLookup)
	})

	return r
}

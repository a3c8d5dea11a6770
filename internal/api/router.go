package api

import (
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/coverline/server/internal/api/handlers"
	"github.com/coverline/server/internal/api/middleware"
	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/auth"
	"github.com/coverline/server/internal/carriers"
	"github.com/coverline/server/internal/compliance"
	"github.com/coverline/server/internal/config"
	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/automations"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/notes"
	"github.com/coverline/server/internal/domain/routing"
	"github.com/coverline/server/internal/domain/segments"
	"github.com/coverline/server/internal/metrics"
)

// Deps carries everything the router wires into handlers. The serve command
// builds it once at startup.
type Deps struct {
	Config config.Config
	Logger zerolog.Logger

	Pool        *pgxpool.Pool
	RiverClient *river.Client[pgx.Tx]

	JWTManager *auth.JWTManager
	APIKeys    auth.APIKeyStore

	Leads       *leads.Service
	Ingest      *leads.IngestService
	Agents      *agents.Service
	Router      *routing.Service
	Notes       *notes.Service
	Segments    *segments.Service
	Automations *automations.Service
	Carriers    *carriers.Service
	Compliance  *compliance.Service
	AuditRepo   audit.Repository
	AuditWriter *audit.Writer

	Version   string
	GitCommit string
}

// NewRouter builds the full HTTP surface: health and metrics endpoints, the
// partner intake route, and the staff CRM API.
func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	env := cfg.Environment

	health := handlers.NewHealthChecker(deps.Pool, deps.RiverClient, deps.Version, deps.GitCommit)
	leadsHandler := handlers.NewLeadsHandler(deps.Leads, deps.Ingest, deps.AuditWriter, env)
	agentsHandler := handlers.NewAgentsHandler(deps.Agents, deps.AuditWriter, env)
	routingHandler := handlers.NewRoutingHandler(deps.Router, deps.AuditWriter, env)
	notesHandler := handlers.NewNotesHandler(deps.Notes, env)
	segmentsHandler := handlers.NewSegmentsHandler(deps.Segments, env)
	automationsHandler := handlers.NewAutomationsHandler(deps.Automations, env)
	carriersHandler := handlers.NewCarriersHandler(deps.Carriers, deps.AuditWriter, env)
	auditHandler := handlers.NewAuditHandler(deps.AuditRepo, env)
	complianceHandler := handlers.NewComplianceHandler(deps.Compliance, env)

	rateLimit := middleware.RateLimit(cfg.RateLimit)
	intakeAuth := middleware.Authenticate(deps.JWTManager, deps.APIKeys, env)
	staffAuth := middleware.JWTAuth(deps.JWTManager, env)

	anyStaff := func(h http.HandlerFunc) http.Handler {
		return staffAuth(rateLimit(h))
	}
	manage := func(h http.HandlerFunc) http.Handler {
		return staffAuth(rateLimit(middleware.RequireRole(env, auth.RoleAdmin, auth.RoleManager, auth.RoleAgent)(h)))
	}
	manager := func(h http.HandlerFunc) http.Handler {
		return staffAuth(rateLimit(middleware.RequireRole(env, auth.RoleAdmin, auth.RoleManager)(h)))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return staffAuth(rateLimit(middleware.RequireRole(env, auth.RoleAdmin)(h)))
	}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", health.Health())
	mux.Handle("GET /readyz", health.Ready())
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// Lead intake accepts staff JWTs and partner API keys; everything else
	// under /api/v1 is staff-only.
	mux.Handle("POST /api/v1/leads", intakeAuth(rateLimit(middleware.Idempotency(http.HandlerFunc(leadsHandler.Create)))))
	mux.Handle("GET /api/v1/leads", anyStaff(leadsHandler.List))
	mux.Handle("GET /api/v1/leads/{id}", anyStaff(leadsHandler.Get))
	mux.Handle("PATCH /api/v1/leads/{id}", manage(leadsHandler.Update))
	mux.Handle("DELETE /api/v1/leads/{id}", manager(leadsHandler.Delete))
	mux.Handle("POST /api/v1/leads/{id}/status", manage(leadsHandler.ChangeStatus))

	mux.Handle("GET /api/v1/leads/{id}/rank", manage(routingHandler.Rank))
	mux.Handle("POST /api/v1/leads/{id}/assign", manage(routingHandler.Assign))
	mux.Handle("GET /api/v1/leads/{id}/assignments", anyStaff(routingHandler.History))
	mux.Handle("POST /api/v1/leads/{id}/quotes", manage(carriersHandler.QuoteLead))

	mux.Handle("GET /api/v1/leads/{id}/notes", anyStaff(notesHandler.List))
	mux.Handle("POST /api/v1/leads/{id}/notes", manage(notesHandler.Create))
	mux.Handle("PATCH /api/v1/leads/{id}/notes/{noteId}", manage(notesHandler.Update))
	mux.Handle("DELETE /api/v1/leads/{id}/notes/{noteId}", manage(notesHandler.Delete))
	mux.Handle("GET /api/v1/leads/{id}/timeline", anyStaff(notesHandler.Timeline))

	mux.Handle("GET /api/v1/agents", anyStaff(agentsHandler.List))
	mux.Handle("POST /api/v1/agents", manager(agentsHandler.Create))
	mux.Handle("GET /api/v1/agents/{id}", anyStaff(agentsHandler.Get))
	mux.Handle("PATCH /api/v1/agents/{id}/active", manager(agentsHandler.SetActive))
	mux.Handle("PATCH /api/v1/agents/{id}/performance", manager(agentsHandler.UpdatePerformance))

	mux.Handle("GET /api/v1/segments", anyStaff(segmentsHandler.List))
	mux.Handle("POST /api/v1/segments", manager(segmentsHandler.Create))
	mux.Handle("GET /api/v1/segments/{id}", anyStaff(segmentsHandler.Get))
	mux.Handle("PATCH /api/v1/segments/{id}", manager(segmentsHandler.Update))
	mux.Handle("DELETE /api/v1/segments/{id}", manager(segmentsHandler.Delete))
	mux.Handle("GET /api/v1/segments/{id}/preview/{leadId}", anyStaff(segmentsHandler.Preview))
	mux.Handle("POST /api/v1/segments/{id}/refresh", manager(segmentsHandler.Refresh))

	mux.Handle("GET /api/v1/automations", anyStaff(automationsHandler.List))
	mux.Handle("POST /api/v1/automations", manager(automationsHandler.Create))
	mux.Handle("GET /api/v1/automations/{id}", anyStaff(automationsHandler.Get))
	mux.Handle("PATCH /api/v1/automations/{id}", manager(automationsHandler.Update))
	mux.Handle("DELETE /api/v1/automations/{id}", manager(automationsHandler.Delete))
	mux.Handle("PATCH /api/v1/automations/{id}/active", manager(automationsHandler.SetActive))
	mux.Handle("GET /api/v1/automations/{id}/runs", anyStaff(automationsHandler.Runs))

	mux.Handle("GET /api/v1/carriers", anyStaff(carriersHandler.List))
	mux.Handle("POST /api/v1/carriers", admin(carriersHandler.Create))
	mux.Handle("GET /api/v1/carriers/breakers", anyStaff(carriersHandler.BreakerStatus))
	mux.Handle("GET /api/v1/carriers/{slug}", anyStaff(carriersHandler.Get))
	mux.Handle("PATCH /api/v1/carriers/{slug}", admin(carriersHandler.Update))
	mux.Handle("DELETE /api/v1/carriers/{slug}", admin(carriersHandler.Delete))
	mux.Handle("POST /api/v1/carriers/{slug}/quotes", manage(carriersHandler.Quote))

	mux.Handle("GET /api/v1/audit", admin(auditHandler.List))
	mux.Handle("POST /api/v1/audit/verify", admin(auditHandler.Verify))
	mux.Handle("POST /api/v1/compliance/dsar", admin(complianceHandler.DSAR))

	// Outer chain: correlation first so every later stage logs with the
	// request ID, tracing before logging so spans cover the handler.
	var handler http.Handler = mux
	handler = middleware.RequestSize(middleware.DefaultMaxBodySize)(handler)
	handler = middleware.CORS(cfg.CORS, deps.Logger)(handler)
	handler = middleware.SecurityHeaders(cfg.Environment == "production")(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.RequestLogging(deps.Logger)(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.CorrelationID(deps.Logger)(handler)
	return handler
}

// Package httpapi implements the Request Handlers (spec §4.9): plain
// labstack/echo/v4 handlers for the four `/messages/*` endpoints in spec
// §6, each validating its role constraints, wiring together the Message
// Store, Policy Cache, Prompt Composer (via the Generation Loop) and
// Broadcast Hub, then streaming the resulting event set back as SSE.
//
// HTTP routing, multipart parsing, and authentication/JWT validation are
// explicit external collaborators (spec §1); SubjectMiddleware only trusts
// the subject identity a fronting auth proxy has already verified and
// forwarded as headers.
package httpapi

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/rivermint/chatforge/broadcast"
	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/generation"
	"github.com/rivermint/chatforge/policy"
	"github.com/rivermint/chatforge/store"
)

// Runner is the narrow contract the Request Handlers need from the
// Generation Loop (spec §4.7). *generation.Loop satisfies this directly;
// tests substitute a fake that records RunParams without standing up a
// real ProviderCatalog/Composer/ToolExecutor stack — the same narrowing
// EventSink/PolicyInvalidator/BudgetTracker use in package generation.
type Runner interface {
	Run(ctx context.Context, params generation.RunParams) error
}

// Server holds every collaborator a request handler needs.
type Server struct {
	Store   *store.Store
	Policy  *policy.Cache
	Hub     *broadcast.Hub
	Gen     Runner
	Catalog *generation.ProviderCatalog
	Config  *config.Document
	Limiter *RateLimiterStore
	// Summary spawns the fire-and-forget chat-title task on a new chat or
	// first user turn (spec §4.7). Nil disables summarization entirely,
	// same as an empty chat_providers.summary.provider_id.
	Summary *generation.SummaryTask
	Log     *slog.Logger
}

// New builds a Server. limiter may be nil to accept a default (one request
// per second, burst 5, per subject id) — a generalisation of the teacher's
// globalAILimiter singleton into a small keyed limiter store. summary may be
// nil to disable chat-title generation.
func New(st *store.Store, pol *policy.Cache, hub *broadcast.Hub, gen Runner, catalog *generation.ProviderCatalog, cfg *config.Document, limiter *RateLimiterStore, summary *generation.SummaryTask, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = NewRateLimiterStore(rate.Limit(1), 5, 10000)
	}
	return &Server{
		Store:   st,
		Policy:  pol,
		Hub:     hub,
		Gen:     gen,
		Catalog: catalog,
		Config:  cfg,
		Limiter: limiter,
		Summary: summary,
		Log:     logger,
	}
}

// RegisterRoutes wires the four endpoints spec §6 names under /messages.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/messages", SubjectMiddleware)
	g.POST("/submitstream", s.SubmitStream)
	g.POST("/regeneratestream", s.RegenerateStream)
	g.POST("/editstream", s.EditStream)
	g.POST("/resumestream", s.ResumeStream)
}

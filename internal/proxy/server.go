// Package proxy terminates HTTP on localhost and translates between the
// OpenAI, Anthropic, and Gemini-internal wire shapes, using chi for
// routing and internal/translate for the wire-shape conversions.
package proxy

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sovereign-gateway/core/internal/config"
	"github.com/sovereign-gateway/core/internal/store"
	"github.com/sovereign-gateway/core/internal/token"
	"github.com/sovereign-gateway/core/internal/upstream/embed"
	"github.com/sovereign-gateway/core/internal/upstream/gemini"
	"github.com/sovereign-gateway/core/internal/upstream/local"
)

// Server wires together every dependency a request handler needs. It
// holds no per-request state.
type Server struct {
	cfg          *config.Config
	store        *store.Store
	manager      *token.Manager
	geminiClient *gemini.Client
	localClient  *local.Client
	embedClient  *embed.Client
	log          *slog.Logger
}

func NewServer(cfg *config.Config, st *store.Store, mgr *token.Manager, geminiClient *gemini.Client, embedClient *embed.Client, log *slog.Logger) *Server {
	return &Server{
		cfg:          cfg,
		store:        st,
		manager:      mgr,
		geminiClient: geminiClient,
		localClient:  local.NewClient(),
		embedClient:  embedClient,
		log:          log,
	}
}

// Routes builds the full HTTP surface the gateway exposes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Logger)
	r.Use(s.requestID)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Get("/v1/models", s.handleModels)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Post("/v1/messages", s.handleMessages)
	})

	// IDE-facing masquerade endpoints pass runtime checks the IDE performs
	// before it will talk to us at all; these stay unauthenticated so the
	// IDE's own startup probe (which never carries our bearer token)
	// succeeds.
	r.Post("/v1internal:fetchAvailableModels", s.handleMasqueradeFetchModels)
	r.Post("/v1internal:loadCodeAssist", s.handleMasqueradeLoadCodeAssist)
	r.Get("/oauth2/v1/userinfo", s.handleMasqueradeUserinfo)
	r.Get("/oauth2/v2/userinfo", s.handleMasqueradeUserinfo)
	r.Get("/v1/people/me", s.handleMasqueradePeopleMe)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/internal/discovery/scan", s.handleDiscoveryScan)
		r.Post("/internal/discovery/import", s.handleDiscoveryImport)
	})

	return r
}

// nonStreamTimeout caps non-streaming upstream calls.
const nonStreamTimeout = 30 * time.Second

// localTimeout caps local-model calls, which tend to run slower than the
// hosted providers.
const localTimeout = 120 * time.Second

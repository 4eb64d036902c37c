package server

import (
	"log/slog"
	"net/http"

	"hdb-insights/internal/handlers"
	"hdb-insights/internal/services"
)

type Server struct {
	insights    *services.Insights
	mux         *http.ServeMux
	logger      *slog.Logger
	apiHandlers *handlers.APIHandlers
	sseHandlers *handlers.SSEHandlers
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
}

func NewServer(insights *services.Insights, logger *slog.Logger, templateHandlers *TemplateHandlers) *Server {
	s := &Server{
		insights:    insights,
		mux:         http.NewServeMux(),
		logger:      logger,
		apiHandlers: handlers.NewAPIHandlers(insights, logger),
		sseHandlers: handlers.NewSSEHandlers(insights, logger),
	}
	s.setupRoutes(templateHandlers)
	return s
}

func (s *Server) setupRoutes(templateHandlers *TemplateHandlers) {
	// Dashboard routes
	s.mux.HandleFunc("GET /", templateHandlers.Dashboard)
	s.mux.HandleFunc("GET /health", s.apiHandlers.HandleHealth)
	s.mux.HandleFunc("GET /admin/stats", s.apiHandlers.HandleStats)

	// REST API endpoints
	s.mux.HandleFunc("GET /api/filters", s.apiHandlers.HandleFilters)
	s.mux.HandleFunc("GET /api/summary", s.apiHandlers.HandleSummary)
	s.mux.HandleFunc("GET /api/pivot", s.apiHandlers.HandlePivot)
	s.mux.HandleFunc("GET /api/transactions", s.apiHandlers.HandleTransactions)

	// Datastar SSE endpoints
	s.mux.HandleFunc("GET /sse/controls", s.sseHandlers.HandleControls)
	s.mux.HandleFunc("GET /sse/dashboard", s.sseHandlers.HandleDashboard)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

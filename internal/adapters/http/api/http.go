// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	service "github.com/okian/tremor/internal/app"
	"github.com/okian/tremor/internal/domain/model"
	"golang.org/x/time/rate"
)

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	Process(ctx context.Context, req model.ProcessRequest) (model.ProcessingSummary, error)
	Trigger(ctx context.Context, req model.ProcessRequest) (bool, error)
	Ingest(ctx context.Context, transport string, samples []model.RawSample, trigger bool) (int, error)
	Results(ctx context.Context, q service.ResultQuery) ([]model.AnalysisResult, error)
	Ready(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	processHandler *ProcessHandler
	samplesHandler *SamplesHandler
	resultsHandler *ResultsHandler

	limiter *rate.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithProcessLimit rate-limits POST /process.
func WithProcessLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	v := validator.New(validator.WithRequiredStructEnabled())
	s := &Server{
		healthHandler:  NewHealthHandler(deps),
		statsHandler:   NewStatsHandler(statsProvider),
		processHandler: NewProcessHandler(deps, v),
		samplesHandler: NewSamplesHandler(deps),
		resultsHandler: NewResultsHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	process := s.processHandler.HandleProcess
	if s.limiter != nil {
		process = RateLimitMiddleware(process, s.limiter)
	}
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/process", MetricsMiddleware(process, "process"))
	mux.HandleFunc("/samples", MetricsMiddleware(s.samplesHandler.HandlePostSamples, "samples"))
	mux.HandleFunc("/results", MetricsMiddleware(s.resultsHandler.HandleGetResults, "results"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

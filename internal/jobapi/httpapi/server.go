package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/insightqueue/insightqueue/internal/jobapi"
)

// Config configures the HTTP front.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server fronts a jobapi.Service over HTTP.
type Server struct {
	cfg    Config
	logger *zap.Logger
	server *http.Server
}

func NewServer(cfg Config, svc *jobapi.Service, logger *zap.Logger) *Server {
	h := NewHandler(svc, logger)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", h.Submit).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", h.Status).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", h.Cancel).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/stream", h.Stream).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = RecoveryMiddleware(logger)(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = RequestIDMiddleware()(handler)

	return &Server{
		cfg:    cfg,
		logger: logger,
		server: &http.Server{
			Addr:        cfg.ListenAddr,
			Handler:     handler,
			ReadTimeout: cfg.ReadTimeout,
			// WriteTimeout is intentionally left at zero: the stream
			// endpoint holds its connection open for a job's entire
			// lifetime, which a fixed write deadline would cut short.
		},
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting job api server", zap.String("addr", s.cfg.ListenAddr))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

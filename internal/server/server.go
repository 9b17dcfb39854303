package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"mtdguard/internal/correlation"
	"mtdguard/internal/metrics"
	"mtdguard/internal/threat"
)

// Server exposes the analyzer and indicator store over HTTP and gRPC.
type Server struct {
	analyzer *correlation.Analyzer
	store    threat.IndicatorStore
	cfg      *Config
	router   *mux.Router
	limiter  *DeviceLimiter

	httpSrv    *http.Server
	metricsSrv *http.Server
	grpcSrv    *grpc.Server
	health     *health.Server
}

func New(analyzer *correlation.Analyzer, store threat.IndicatorStore, cfg *Config) *Server {
	s := &Server{
		analyzer: analyzer,
		store:    store,
		cfg:      cfg,
		router:   mux.NewRouter(),
		limiter:  NewDeviceLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	s.routes()
	s.httpSrv = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.grpcSrv, s.health = newGRPCServer(s)
	return s
}

func (s *Server) routes() {
	// Indicator values may be URLs; keep their slashes intact.
	s.router.SkipClean(true)
	s.router.Use(s.instrument)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/events/sms", s.handleSms).Methods(http.MethodPost)
	v1.HandleFunc("/events/call", s.handleCall).Methods(http.MethodPost)
	v1.HandleFunc("/events/apps", s.handleApps).Methods(http.MethodPost)

	v1.HandleFunc("/indicators", s.handleAddIndicators).Methods(http.MethodPost)
	v1.HandleFunc("/indicators/stats", s.handleIndicatorStats).Methods(http.MethodGet)
	v1.HandleFunc("/indicators/{type}/{value:.+}", s.handleGetIndicator).Methods(http.MethodGet)

	v1.HandleFunc("/techniques", s.handleTechniques).Methods(http.MethodGet)
	v1.HandleFunc("/techniques/{id}", s.handleTechnique).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

func (s *Server) Router() http.Handler { return s.router }

// StartHTTP serves the API on cfg.HTTPAddr until Shutdown.
func (s *Server) StartHTTP() error {
	slog.Info("http listening", "addr", s.cfg.HTTPAddr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartMetrics serves /metrics on its own listener.
func (s *Server) StartMetrics(addr string) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsSrv = &http.Server{Addr: addr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
}

// StartGRPC serves the Analyzer service on addr until Shutdown.
func (s *Server) StartGRPC(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("grpc listening", "addr", addr)
	return s.ServeGRPC(ln)
}

// ServeGRPC serves the Analyzer service on an existing listener.
func (s *Server) ServeGRPC(ln net.Listener) error {
	return s.grpcSrv.Serve(ln)
}

// Shutdown drains the listeners. The analyzer is owned by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}

	errs := []error{s.httpSrv.Shutdown(ctx)}
	if s.metricsSrv != nil {
		errs = append(errs, s.metricsSrv.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

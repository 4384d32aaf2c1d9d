// Package api serves the ingested transit data over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfsrt"
	"github.com/theoremus-urban-solutions/gtfs-ingest/ingest"
	"github.com/theoremus-urban-solutions/gtfs-ingest/siri"
	"github.com/theoremus-urban-solutions/gtfs-ingest/storage/sqlite"
	"github.com/theoremus-urban-solutions/gtfs-ingest/tracking"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Store is the read side of the database the API serves.
type Store interface {
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (map[string]int64, error)
	LatestRealtimeEpoch(ctx context.Context) (int64, error)
	AgencyTimezone(ctx context.Context) (string, error)
	GetStop(ctx context.Context, id string) (gtfs.Stop, error)
	NearestStops(ctx context.Context, lat, lon float64, limit int) ([]sqlite.StopDistance, error)
	GetTrip(ctx context.Context, tripID string) (sqlite.TripDetail, error)
	GetTripInstance(ctx context.Context, tripID, serviceDate string) (tracking.TripInstance, error)
	ListVehicles(ctx context.Context, routeID string) ([]tracking.VehicleState, error)
	ListAlerts(ctx context.Context, epoch int64) ([]gtfsrt.Alert, error)
}

// Jobs reports the state of ingest pipelines.
type Jobs interface {
	Status() []ingest.JobStatus
}

// Options configure a Server. Jobs and Metrics are optional.
type Options struct {
	Port    int
	Logger  *slog.Logger
	Store   Store
	Jobs    Jobs
	Metrics http.Handler
	SIRI    siri.Options
}

type Server struct {
	Router *chi.Mux
	Port   int

	logger *slog.Logger
	store  Store
	jobs   Jobs
	siri   siri.Options
	now    func() time.Time
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Router: chi.NewRouter(),
		Port:   opts.Port,
		logger: logger,
		store:  opts.Store,
		jobs:   opts.Jobs,
		siri:   opts.SIRI,
		now:    time.Now,
	}

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "gtfs-ingest-api")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stops", s.handleNearestStops)
		r.Get("/stops/{id}", s.handleStop)
		r.Get("/trips/{id}", s.handleTrip)
		r.Get("/vehicles", s.handleVehicles)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/pipelines", s.handlePipelines)
		r.Get("/siri/vehicle-monitoring.json", s.handleVehicleMonitoring)
		r.Get("/siri/situation-exchange.json", s.handleSituationExchange)
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server shut down successfully")
	return nil
}

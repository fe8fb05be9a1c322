package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goji "goji.io"
	"goji.io/pat"

	"github.com/thingful/iotstevens/pkg/metrics"
	"github.com/thingful/iotstevens/pkg/version"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "build_info",
			Help:      "Information about the current build of the service",
		}, []string{"name", "version", "build_date"},
	)
)

func init() {
	metrics.MustRegister(buildInfo)
}

// Pinger is implemented by backing components whose liveness the pulse
// endpoint should verify.
type Pinger interface {
	Ping() error
}

// Config is the configuration for the worker's HTTP surface.
type Config struct {
	ListenAddr string
	Pingers    []Pinger
}

// Server exposes the worker's operational endpoints: a pulse handler a load
// balancer can ping, and prometheus metrics.
type Server struct {
	srv    *http.Server
	logger kitlog.Logger
}

// PulseHandler verifies each backing component is reachable before reporting
// ok.
func PulseHandler(pingers ...Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, pinger := range pingers {
			if err := pinger.Ping(); err != nil {
				http.Error(w, "failed to reach backing component", http.StatusInternalServerError)
				return
			}
		}
		fmt.Fprintf(w, "ok")
	})
}

// RequestIDMiddleware attaches a request id header to every response so log
// lines can be correlated.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// NewServer returns a new Server ready to start.
func NewServer(config *Config, logger kitlog.Logger) *Server {
	logger = kitlog.With(logger, "module", "server")

	logger.Log("msg", "creating server", "addr", config.ListenAddr)

	buildInfo.WithLabelValues(version.BinaryName, version.Version, version.BuildDate)

	mux := goji.NewMux()

	mux.Handle(pat.Get("/pulse"), PulseHandler(config.Pingers...))
	mux.Handle(pat.Get("/metrics"), promhttp.Handler())

	mux.Use(RequestIDMiddleware)

	srv := &http.Server{
		Addr:    config.ListenAddr,
		Handler: mux,
	}

	return &Server{
		srv:    srv,
		logger: logger,
	}
}

// Start starts the server listening, blocking until an interrupt signal is
// received, then shuts down gracefully.
func (s *Server) Start() error {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)

	go func() {
		<-stopChan
		s.logger.Log("msg", "received interrupt, stopping server")
		s.Stop()
	}()

	s.logger.Log("msg", "starting server")

	err := s.srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "server failed")
	}

	return nil
}

// Stop shuts down the http server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

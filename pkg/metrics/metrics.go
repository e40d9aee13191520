// Package metrics implements a standalone HTTP server for serving pprof
// profiles and Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adcrn/tyto/pkg/log"
	"github.com/adcrn/tyto/pkg/stop"
)

var (
	logger  = log.NewLogger("metrics")
	enabled atomic.Bool
)

// Enabled indicates that a metrics server is running and subsystems should
// spend cycles populating their collectors.
func Enabled() bool {
	return enabled.Load()
}

// Server represents a standalone HTTP server for serving a Prometheus
// metrics endpoint and pprof profiles.
type Server struct {
	srv *http.Server
}

// Stop shuts down the server.
func (s *Server) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		enabled.Store(false)
		c.Done(s.srv.Shutdown(context.Background()))
	}()
	return c.Result()
}

// NewServer creates a new instance of a Prometheus server that
// asynchronously serves requests.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s := &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}

	enabled.Store(true)
	go func() {
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed while serving prometheus")
		}
	}()

	return s
}

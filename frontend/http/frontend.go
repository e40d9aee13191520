// Package http implements a BitTorrent frontend via the HTTP protocol as
// described in BEP 3 and BEP 23, served with fasthttp.
package http

import (
	"errors"
	"net"
	"time"

	"github.com/fasthttp/router"
	"github.com/libp2p/go-reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"github.com/adcrn/tyto/bittorrent"
	"github.com/adcrn/tyto/frontend"
	"github.com/adcrn/tyto/pkg/conf"
	"github.com/adcrn/tyto/pkg/log"
	"github.com/adcrn/tyto/pkg/stop"
	"github.com/adcrn/tyto/stats"
)

const contentType = "text/plain"

var logger = log.NewLogger("frontend/http")

func init() {
	prometheus.MustRegister(promResponseDurationMilliseconds)
}

var promResponseDurationMilliseconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "tyto_http_response_duration_milliseconds",
		Help:    "The duration of time it takes to receive and write a response to an API request",
		Buckets: prometheus.ExponentialBuckets(9.375, 2, 10),
	},
	[]string{"action", "error"},
)

// recordResponseDuration records the duration of time to respond to a
// request in milliseconds.
func recordResponseDuration(action string, err error, duration time.Duration) {
	var errString string
	if err != nil {
		var clientErr bittorrent.ClientError
		if errors.As(err, &clientErr) {
			errString = clientErr.Error()
		} else {
			errString = "internal error"
		}
	}

	promResponseDurationMilliseconds.
		WithLabelValues(action, errString).
		Observe(float64(duration.Nanoseconds()) / float64(time.Millisecond))
}

// Config represents all of the configurable options for an HTTP BitTorrent
// frontend.
type Config struct {
	Addr            string        `cfg:"addr"`
	ReusePort       bool          `cfg:"reuse_port"`
	ReadTimeout     time.Duration `cfg:"read_timeout"`
	WriteTimeout    time.Duration `cfg:"write_timeout"`
	IdleTimeout     time.Duration `cfg:"idle_timeout"`
	AllowIPSpoofing bool          `cfg:"allow_ip_spoofing"`

	bittorrent.RequestSanitizer `cfg:",squash"`
}

// Default config constants.
const (
	defaultReadTimeout         = 5 * time.Second
	defaultWriteTimeout        = 5 * time.Second
	defaultIdleTimeout         = 30 * time.Second
	defaultDefaultNumWant      = 50
	defaultMaxNumWant          = 200
	defaultMaxScrapeInfoHashes = 50
)

// ErrAddressNotProvided is returned when the frontend is configured
// without a listen address.
var ErrAddressNotProvided = errors.New("listen address not provided")

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg Config) Validate() (Config, error) {
	validCfg := cfg

	if len(cfg.Addr) == 0 {
		return cfg, ErrAddressNotProvided
	}

	fallback := func(name string, provided any, set func()) {
		set()
		logger.Warn().
			Str("name", name).
			Any("provided", provided).
			Msg("falling back to default configuration")
	}

	if cfg.ReadTimeout <= 0 {
		fallback("read_timeout", cfg.ReadTimeout, func() { validCfg.ReadTimeout = defaultReadTimeout })
	}
	if cfg.WriteTimeout <= 0 {
		fallback("write_timeout", cfg.WriteTimeout, func() { validCfg.WriteTimeout = defaultWriteTimeout })
	}
	if cfg.IdleTimeout <= 0 {
		fallback("idle_timeout", cfg.IdleTimeout, func() { validCfg.IdleTimeout = defaultIdleTimeout })
	}
	if cfg.DefaultNumWant == 0 {
		fallback("default_num_want", cfg.DefaultNumWant, func() { validCfg.DefaultNumWant = defaultDefaultNumWant })
	}
	if cfg.MaxNumWant == 0 {
		fallback("max_num_want", cfg.MaxNumWant, func() { validCfg.MaxNumWant = defaultMaxNumWant })
	}
	if cfg.MaxScrapeInfoHashes == 0 {
		fallback("max_scrape_info_hashes", cfg.MaxScrapeInfoHashes, func() { validCfg.MaxScrapeInfoHashes = defaultMaxScrapeInfoHashes })
	}

	return validCfg, nil
}

// Frontend holds the state of an HTTP BitTorrent frontend.
type Frontend struct {
	srv   *fasthttp.Server
	logic frontend.TrackerLogic
	cfg   Config
}

// NewFrontend builds and starts a frontend from the provided raw
// configuration.
func NewFrontend(logic frontend.TrackerLogic, icfg conf.MapConfig) (*Frontend, error) {
	var cfg Config
	if err := icfg.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	f := &Frontend{
		logic: logic,
		cfg:   cfg,
	}

	r := router.New()
	r.GET("/announce", f.announceRoute)
	r.GET("/scrape", f.scrapeRoute)
	r.GET("/stats", f.statsRoute)

	f.srv = &fasthttp.Server{
		Handler:      r.Handler,
		Name:         "tyto",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var ln net.Listener
	if cfg.ReusePort {
		ln, err = reuseport.Listen("tcp", cfg.Addr)
	} else {
		ln, err = net.Listen("tcp", cfg.Addr)
	}
	if err != nil {
		return nil, err
	}

	go func() {
		if err := f.srv.Serve(ln); err != nil {
			logger.Fatal().Err(err).Msg("failed while serving http")
		}
	}()

	return f, nil
}

// Stop provides a thread-safe way to shut down a currently running
// Frontend.
func (f *Frontend) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		c.Done(f.srv.Shutdown())
	}()
	return c.Result()
}

// announceRoute parses and responds to an Announce.
func (f *Frontend) announceRoute(ctx *fasthttp.RequestCtx) {
	var err error
	start := time.Now()
	defer func() {
		recordResponseDuration("announce", err, time.Since(start))
	}()

	var req *bittorrent.AnnounceRequest
	if req, err = ParseAnnounce(ctx, f.cfg.AllowIPSpoofing); err == nil {
		err = f.cfg.SanitizeAnnounce(req)
	}
	if err != nil {
		// Parse failures short-circuit before any store interaction.
		stats.FailAnnounce()
		WriteError(ctx, err)
		return
	}
	logger.Debug().Object("request", *req).Msg("parsed announce")

	var resp *bittorrent.AnnounceResponse
	if resp, err = f.logic.HandleAnnounce(ctx, req); err != nil {
		WriteError(ctx, err)
		return
	}

	err = WriteAnnounceResponse(ctx, resp)
}

// scrapeRoute parses and responds to a Scrape.
func (f *Frontend) scrapeRoute(ctx *fasthttp.RequestCtx) {
	var err error
	start := time.Now()
	defer func() {
		recordResponseDuration("scrape", err, time.Since(start))
	}()

	var req *bittorrent.ScrapeRequest
	if req, err = ParseScrape(ctx); err == nil {
		err = f.cfg.SanitizeScrape(req)
	}
	if err != nil {
		WriteError(ctx, err)
		return
	}

	var resp *bittorrent.ScrapeResponse
	if resp, err = f.logic.HandleScrape(ctx, req); err != nil {
		WriteError(ctx, err)
		return
	}

	err = WriteScrapeResponse(ctx, resp)
}

// statsRoute renders the global counters.
func (f *Frontend) statsRoute(ctx *fasthttp.RequestCtx) {
	if err := WriteStats(ctx, stats.Collect()); err != nil {
		logger.Error().Err(err).Msg("unable to encode stats")
	}
}

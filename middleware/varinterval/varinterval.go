// Package varinterval provides a middleware hook randomly increasing the
// announce interval advertised to clients, spreading out re-announce
// bursts after a tracker restart.
package varinterval

import (
	"context"
	"errors"
	"time"

	"github.com/adcrn/tyto/bittorrent"
	"github.com/adcrn/tyto/middleware"
	"github.com/adcrn/tyto/middleware/pkg/random"
	"github.com/adcrn/tyto/pkg/conf"
	"github.com/adcrn/tyto/storage"
)

// Name is the name by which this middleware is registered.
const Name = "interval variation"

func init() {
	middleware.RegisterDriver(Name, driver{})
}

var _ middleware.Driver = driver{}

type driver struct{}

func (d driver) NewHook(options conf.MapConfig, _ storage.Storage) (middleware.Hook, error) {
	var cfg Config
	if err := options.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return NewHook(cfg)
}

// ErrInvalidModifyResponseProbability is returned for a config with an
// invalid ModifyResponseProbability.
var ErrInvalidModifyResponseProbability = errors.New("invalid modify_response_probability")

// ErrInvalidMaxIncreaseDelta is returned for a config with an invalid
// MaxIncreaseDelta.
var ErrInvalidMaxIncreaseDelta = errors.New("invalid max_increase_delta")

// Config represents the configuration for the varinterval middleware.
type Config struct {
	// ModifyResponseProbability is the probability by which a response
	// will be modified.
	ModifyResponseProbability float32 `cfg:"modify_response_probability"`

	// MaxIncreaseDelta is the amount of seconds that will be added at
	// most.
	MaxIncreaseDelta int `cfg:"max_increase_delta"`

	// ModifyMinInterval specifies whether min interval should be
	// increased as well.
	ModifyMinInterval bool `cfg:"modify_min_interval"`
}

func checkConfig(cfg Config) error {
	if cfg.ModifyResponseProbability <= 0 || cfg.ModifyResponseProbability > 1 {
		return ErrInvalidModifyResponseProbability
	}
	if cfg.MaxIncreaseDelta <= 0 {
		return ErrInvalidMaxIncreaseDelta
	}
	return nil
}

type hook struct {
	cfg Config
}

// NewHook creates a middleware to randomly modify the announce interval
// from the given config.
func NewHook(cfg Config) (middleware.Hook, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	return &hook{cfg: cfg}, nil
}

func (h *hook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) (context.Context, error) {
	s0, s1 := random.DeriveEntropyFromRequest(req)
	// Generate a probability p < 1.0.
	v, s0, s1 := random.Intn(s0, s1, 1<<24)
	p := float32(v) / (1 << 24)
	if h.cfg.ModifyResponseProbability == 1 || p < h.cfg.ModifyResponseProbability {
		// Generate the increase delta.
		v, _, _ = random.Intn(s0, s1, h.cfg.MaxIncreaseDelta)
		add := time.Duration(v+1) * time.Second

		resp.Interval += add
		if h.cfg.ModifyMinInterval {
			resp.MinInterval += add
		}
	}

	return ctx, nil
}

func (h *hook) HandleScrape(ctx context.Context, _ *bittorrent.ScrapeRequest, _ *bittorrent.ScrapeResponse) (context.Context, error) {
	// Scrapes are not altered.
	return ctx, nil
}

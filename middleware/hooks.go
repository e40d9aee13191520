package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/adcrn/tyto/bittorrent"
	"github.com/adcrn/tyto/pkg/conf"
	"github.com/adcrn/tyto/storage"
)

// Hook abstracts the concept of anything that needs to interact with a
// BitTorrent client's request and response to a BitTorrent tracker.
// PreHooks and PostHooks both use the same interface.
//
// A Hook can implement stop.Stopper if clean shutdown is required.
type Hook interface {
	HandleAnnounce(context.Context, *bittorrent.AnnounceRequest, *bittorrent.AnnounceResponse) (context.Context, error)
	HandleScrape(context.Context, *bittorrent.ScrapeRequest, *bittorrent.ScrapeResponse) (context.Context, error)
}

// Driver is the interface used to initialize a custom Hook from a
// configuration subtree.
type Driver interface {
	NewHook(options conf.MapConfig, st storage.Storage) (Hook, error)
}

// ErrDriverIsNotRegistered is the error returned when a hook driver is
// requested that was never registered.
var ErrDriverIsNotRegistered = errors.New("hook driver is not registered")

var drivers = make(map[string]Driver)

// RegisterDriver makes a Driver available by the provided name.
//
// If this function is called twice with the same name or if the Driver is
// nil, it panics.
func RegisterDriver(name string, d Driver) {
	if d == nil {
		panic("middleware: could not register nil Driver")
	}
	if _, dup := drivers[name]; dup {
		panic("middleware: could not register duplicate Driver: " + name)
	}
	drivers[name] = d
}

// HookConfig is the generic configuration format used for all registered
// Hooks.
type HookConfig struct {
	Name    string         `cfg:"name"`
	Options conf.MapConfig `cfg:"options"`
}

// HooksFromHookConfigs builds the Hooks described by the configuration, in
// order.
func HooksFromHookConfigs(cfgs []HookConfig, st storage.Storage) ([]Hook, error) {
	hooks := make([]Hook, 0, len(cfgs))
	for _, cfg := range cfgs {
		d, ok := drivers[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDriverIsNotRegistered, cfg.Name)
		}
		h, err := d.NewHook(cfg.Options, st)
		if err != nil {
			return nil, fmt.Errorf("invalid options for middleware %s: %w", cfg.Name, err)
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

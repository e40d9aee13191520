package main

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/adcrn/tyto/middleware"
	"github.com/adcrn/tyto/pkg/conf"
)

// Config is the top-level configuration of a tyto instance.
type Config struct {
	middleware.ResponseConfig `cfg:",squash"`

	MetricsAddr string                  `cfg:"metrics_addr"`
	HTTPConfig  conf.MapConfig          `cfg:"http"`
	Storage     conf.NamedConfig        `cfg:"storage"`
	PreHooks    []middleware.HookConfig `cfg:"prehooks"`
	PostHooks   []middleware.HookConfig `cfg:"posthooks"`

	// Torrents are registered into the torrent store at startup,
	// attaching display names to info hashes announced later.
	Torrents []TorrentEntry `cfg:"torrents"`
}

// TorrentEntry is an out-of-band torrent registration from the config
// file: a hex info hash with an optional display name.
type TorrentEntry struct {
	InfoHash string `cfg:"info_hash"`
	Name     string `cfg:"name"`
}

// PreHookNames returns only the names of the configured pre hooks.
func (cfg Config) PreHookNames() []string {
	return hookNames(cfg.PreHooks)
}

// PostHookNames returns only the names of the configured post hooks.
func (cfg Config) PostHookNames() []string {
	return hookNames(cfg.PostHooks)
}

func hookNames(hooks []middleware.HookConfig) []string {
	names := make([]string, 0, len(hooks))
	for _, hook := range hooks {
		names = append(names, hook.Name)
	}
	return names
}

// ErrConfigurationSectionNotFound is returned when the configuration file
// lacks the tracker section.
var ErrConfigurationSectionNotFound = errors.New("configuration file misses tyto section")

// ParseConfigFile returns the tracker configuration from the YAML file at
// the provided path.
func ParseConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file struct {
		Tyto conf.MapConfig `yaml:"tyto"`
	}
	if err = yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.Tyto == nil {
		return nil, ErrConfigurationSectionNotFound
	}

	cfg := new(Config)
	if err = file.Tyto.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

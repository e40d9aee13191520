package main

import (
	"errors"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adcrn/tyto/bittorrent"
	httpfrontend "github.com/adcrn/tyto/frontend/http"
	"github.com/adcrn/tyto/middleware"
	_ "github.com/adcrn/tyto/middleware/varinterval"
	"github.com/adcrn/tyto/pkg/log"
	"github.com/adcrn/tyto/pkg/metrics"
	"github.com/adcrn/tyto/pkg/stop"
	"github.com/adcrn/tyto/storage"
	_ "github.com/adcrn/tyto/storage/memory"
)

var logger = log.NewLogger("main")

// Run represents the state of a running instance of the tracker.
type Run struct {
	configFilePath string
	storage        storage.Storage
	logic          *middleware.Logic
	sg             *stop.Group
}

// NewRun runs an instance of the tracker.
func NewRun(configFilePath string) (*Run, error) {
	r := &Run{
		configFilePath: configFilePath,
	}
	return r, r.Start(nil)
}

// Start begins an instance of the tracker.
// It is optional to provide an instance of the storage to avoid the
// creation of a new one.
func (r *Run) Start(ps storage.Storage) error {
	cfg, err := ParseConfigFile(r.configFilePath)
	if err != nil {
		return errors.New("failed to read config: " + err.Error())
	}

	r.sg = stop.NewGroup()

	if len(cfg.MetricsAddr) > 0 {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
		r.sg.Add(metrics.NewServer(cfg.MetricsAddr))
	} else {
		logger.Info().Msg("metrics disabled because of empty address")
	}

	if ps == nil {
		logger.Info().Str("name", cfg.Storage.Name).Msg("starting storage")
		ps, err = storage.NewStorage(cfg.Storage.Name, cfg.Storage.Config)
		if err != nil {
			return errors.New("failed to create storage: " + err.Error())
		}
	}
	r.storage = ps

	for _, t := range cfg.Torrents {
		ih, err := bittorrent.NewInfoHash(t.InfoHash)
		if err != nil {
			return errors.New("failed to register torrent " + t.InfoHash + ": " + err.Error())
		}
		rec := bittorrent.Scrape{InfoHash: ih, Name: t.Name}
		// A storage kept across a reload already holds counters for the
		// torrent; only the name is taken from the config.
		if existing := r.storage.Scrapes([]bittorrent.InfoHash{ih}); len(existing) == 1 {
			rec = existing[0]
			rec.Name = t.Name
		}
		r.storage.PutTorrent(rec)
	}
	if len(cfg.Torrents) > 0 {
		logger.Info().Int("count", len(cfg.Torrents)).Msg("registered torrents")
	}

	preHooks, err := middleware.HooksFromHookConfigs(cfg.PreHooks, r.storage)
	if err != nil {
		return errors.New("failed to validate hook config: " + err.Error())
	}
	postHooks, err := middleware.HooksFromHookConfigs(cfg.PostHooks, r.storage)
	if err != nil {
		return errors.New("failed to validate hook config: " + err.Error())
	}

	logger.Info().
		Strs("prehooks", cfg.PreHookNames()).
		Strs("posthooks", cfg.PostHookNames()).
		Msg("starting tracker logic")
	r.logic = middleware.NewLogic(cfg.ResponseConfig, r.storage, preHooks, postHooks)

	logger.Info().Msg("starting HTTP frontend")
	httpfe, err := httpfrontend.NewFrontend(r.logic, cfg.HTTPConfig)
	if err != nil {
		return err
	}
	r.sg.Add(httpfe)

	return nil
}

func combineErrors(prefix string, errs []error) error {
	errStrs := make([]string, 0, len(errs))
	for _, err := range errs {
		errStrs = append(errStrs, err.Error())
	}
	return errors.New(prefix + ": " + strings.Join(errStrs, "; "))
}

// Stop shuts down an instance of the tracker.
func (r *Run) Stop(keepStorage bool) (storage.Storage, error) {
	logger.Debug().Msg("stopping frontends and metrics server")
	if errs := r.sg.Stop().Wait(); len(errs) != 0 {
		return nil, combineErrors("failed while shutting down frontends", errs)
	}

	logger.Debug().Msg("stopping logic")
	if errs := r.logic.Stop().Wait(); len(errs) != 0 {
		return nil, combineErrors("failed while shutting down middleware", errs)
	}

	if !keepStorage {
		logger.Debug().Msg("stopping storage")
		if errs := r.storage.Stop().Wait(); len(errs) != 0 {
			return nil, combineErrors("failed while shutting down storage", errs)
		}
		r.storage = nil
	}

	return r.storage, nil
}

// RootRunCmdFunc implements a Cobra command that runs an instance of the
// tracker and handles reloading and shutdown via process signals.
func RootRunCmdFunc(cmd *cobra.Command, _ []string) error {
	configFilePath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	r, err := NewRun(configFilePath)
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	reload := makeReloadChan()

	for {
		select {
		case <-reload:
			logger.Info().Msg("reloading; received SIGUSR1")
			peerStore, err := r.Stop(true)
			if err != nil {
				return err
			}
			if err := r.Start(peerStore); err != nil {
				return err
			}
		case <-quit:
			logger.Info().Msg("shutting down; received SIGINT/SIGTERM")
			if _, err := r.Stop(false); err != nil {
				return err
			}
			return nil
		}
	}
}

// RootPreRunCmdFunc handles command line flags for the Run command.
func RootPreRunCmdFunc(cmd *cobra.Command, _ []string) error {
	debugLog, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return err
	}
	jsonLog, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	noColors, err := cmd.Flags().GetBool("nocolors")
	if err != nil {
		return err
	}

	cfg := log.Config{Pretty: !jsonLog, Colored: !noColors}
	if debugLog {
		cfg.Level = "debug"
	}
	if err := log.ConfigureLogger(cfg); err != nil {
		return err
	}
	if debugLog {
		logger.Info().Msg("enabled debug logging")
	}
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:               "tyto",
		Short:             "BitTorrent Tracker",
		Long:              "An in-memory BitTorrent tracker coordinating peer discovery over HTTP",
		PersistentPreRunE: RootPreRunCmdFunc,
		RunE:              RootRunCmdFunc,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("json", false, "enable json logging")
	if runtime.GOOS == "windows" {
		rootCmd.PersistentFlags().Bool("nocolors", true, "disable log coloring")
	} else {
		rootCmd.PersistentFlags().Bool("nocolors", false, "disable log coloring")
	}

	rootCmd.Flags().String("config", "/etc/tyto.yaml", "location of configuration file")

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal().Err(err).Msg("failed when executing root cobra command")
	}
}

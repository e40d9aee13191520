// Package log provides zerolog-backed component loggers and global logger
// configuration for the tracker.
package log

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// Logger is a component logger. Construct instances with NewLogger.
type Logger struct {
	zerolog.Logger
}

// switchWriter lets ConfigureLogger retarget every Logger already handed
// out, including package-level loggers created before configuration ran.
type switchWriter struct {
	out atomic.Pointer[io.Writer]
}

func (sw *switchWriter) Write(p []byte) (int, error) {
	return (*sw.out.Load()).Write(p)
}

var (
	sink = func() *switchWriter {
		sw := new(switchWriter)
		var out io.Writer = os.Stderr
		sw.out.Store(&out)
		return sw
	}()

	root = zerolog.New(sink).With().Timestamp().Logger()

	// ErrUnknownLevel holds error about invalid log level provided in configuration
	ErrUnknownLevel = errors.New("unknown log level")
)

// Config holds the runtime logging options.
type Config struct {
	Level   string `cfg:"level"`
	Pretty  bool   `cfg:"pretty"`
	Colored bool   `cfg:"colored"`
	// Buffered enables a non-blocking diode writer in front of the output.
	// Log records may be dropped under pressure instead of stalling
	// request handlers.
	Buffered bool `cfg:"buffered"`
}

// ConfigureLogger reconfigures the process-wide log output and level.
// It applies to every Logger created by NewLogger, before or after the call.
func ConfigureLogger(cfg Config) error {
	level := zerolog.InfoLevel
	if len(cfg.Level) > 0 {
		var err error
		if level, err = zerolog.ParseLevel(strings.ToLower(cfg.Level)); err != nil {
			return ErrUnknownLevel
		}
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: !cfg.Colored}
	}
	if cfg.Buffered {
		out = diode.NewWriter(out, 1000, 10*time.Millisecond, func(missed int) {
			root.Warn().Int("count", missed).Msg("dropped log records")
		})
	}
	sink.out.Store(&out)
	return nil
}

// NewLogger creates a logger for the named component.
func NewLogger(component string) Logger {
	return Logger{root.With().Str("component", component).Logger()}
}

// Package kernellog wraps github.com/rs/zerolog for kernel lifecycle
// events. It is deliberately outside the kernel's task-facing API
// surface; this is the harness's observability layer, called from
// internal/sched, internal/ksync, and internal/queue at Debug/Trace
// level only, so a disabled logger costs nothing on the hot dispatch
// path.
package kernellog

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger().
		Level(zerolog.InfoLevel)
	logger.Store(&l)
}

// Configure replaces the active logger, e.g. to raise verbosity to
// Debug/Trace for a scenario run, or to redirect output.
func Configure(level zerolog.Level, out io.Writer) {
	l := zerolog.New(out).With().Timestamp().Logger().Level(level)
	logger.Store(&l)
}

func current() *zerolog.Logger { return logger.Load() }

func Debug() *zerolog.Event { return current().Debug() }
func Trace() *zerolog.Event { return current().Trace() }
func Info() *zerolog.Event  { return current().Info() }
func Warn() *zerolog.Event  { return current().Warn() }
func Error() *zerolog.Event { return current().Error() }

package lockfree

import (
	"os"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// shared by every structure in the package, the only thing logged here are
// rare diagnostics (e.g. counter wraparound)
var logger atomic.Pointer[logiface.Logger[logiface.Event]]

func init() {
	logger.Store(stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(logiface.LevelWarning),
	).Logger())
}

// SetLogger replaces the package logger, nil disables logging.
func SetLogger(l *logiface.Logger[logiface.Event]) {
	logger.Store(l)
}

// Logger returns the package logger, which may be nil.
func Logger() *logiface.Logger[logiface.Event] {
	return logger.Load()
}

package taskgraph

import (
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// DefaultLogLevel is the level of the logger used when WithLogger is not
// given.
const DefaultLogLevel = logiface.LevelWarning

func newDefaultLogger() *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(DefaultLogLevel),
	).Logger()
}

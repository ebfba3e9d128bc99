package taskgraph

import (
	"fmt"
	"time"

	"github.com/alphadose/taskgraph/lockfree"
	"github.com/joeycumines/logiface"
)

// DefaultHangWarning is how long a blocking wait runs before it starts
// logging warnings.
const DefaultHangWarning = 10 * time.Second

// NamedThreadConfig describes a named thread beyond GameThread. Named
// threads are assigned indexes 1, 2, ... in the order configured.
type NamedThreadConfig struct {
	Name string
	// CPUs is the affinity set for the OS thread, empty for no pinning.
	CPUs []int
	// External threads are driven by the caller via AttachToThread and the
	// Process methods. Otherwise the scheduler starts a thread that
	// processes tasks until Shutdown.
	External bool
}

type options struct {
	logger       *logiface.Logger[logiface.Event]
	links        *lockfree.LinkPool
	panicHandler func(PanicError)
	named        []NamedThreadConfig
	gameCPUs     []int
	workers      int
	hangWarning  time.Duration
	loggerSet    bool
	highPriority bool
	background   bool
	pinWorkers   bool
}

// Option configures a TaskGraph.
type Option interface {
	apply(*options) error
}

type optionImpl struct {
	applyFunc func(*options) error
}

func (o *optionImpl) apply(opts *options) error {
	return o.applyFunc(opts)
}

// WithWorkers sets the number of workers in each anonymous worker class.
// Zero selects the default, NumCPU less the named threads.
func WithWorkers(n int) Option {
	return &optionImpl{func(opts *options) error {
		if n < 0 {
			return fmt.Errorf(`%w: negative worker count %d`, ErrInvalidOption, n)
		}
		if n > lockfree.MaxStallingWorkers {
			return fmt.Errorf(`%w: %d workers: %w`, ErrInvalidOption, n, lockfree.ErrTooManyWorkers)
		}
		opts.workers = n
		return nil
	}}
}

// WithHighPriorityThreads toggles the high priority worker class. Tasks for
// a disabled class run on the normal class with high task priority.
func WithHighPriorityThreads(enabled bool) Option {
	return &optionImpl{func(opts *options) error {
		opts.highPriority = enabled
		return nil
	}}
}

// WithBackgroundThreads toggles the background worker class.
func WithBackgroundThreads(enabled bool) Option {
	return &optionImpl{func(opts *options) error {
		opts.background = enabled
		return nil
	}}
}

// WithNamedThread adds a named thread.
func WithNamedThread(cfg NamedThreadConfig) Option {
	return &optionImpl{func(opts *options) error {
		if cfg.Name == `` {
			return fmt.Errorf(`%w: named thread requires a name`, ErrInvalidOption)
		}
		if len(opts.named)+1 >= MaxNamedThreads {
			return ErrTooManyNamedThreads
		}
		cfg.CPUs = append([]int(nil), cfg.CPUs...)
		opts.named = append(opts.named, cfg)
		return nil
	}}
}

// WithGameThreadAffinity sets the CPUs applied when GameThread attaches.
func WithGameThreadAffinity(cpus ...int) Option {
	return &optionImpl{func(opts *options) error {
		opts.gameCPUs = append([]int(nil), cpus...)
		return nil
	}}
}

// WithPinnedWorkers pins each worker to a single CPU, round robin.
func WithPinnedWorkers(enabled bool) Option {
	return &optionImpl{func(opts *options) error {
		opts.pinWorkers = enabled
		return nil
	}}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		opts.loggerSet = true
		return nil
	}}
}

// WithPanicHandler is called, after logging, with every panic recovered
// from a task body.
func WithPanicHandler(fn func(PanicError)) Option {
	return &optionImpl{func(opts *options) error {
		opts.panicHandler = fn
		return nil
	}}
}

// WithHangWarning sets the delay before blocking waits log warnings. Zero
// disables them.
func WithHangWarning(d time.Duration) Option {
	return &optionImpl{func(opts *options) error {
		if d < 0 {
			return fmt.Errorf(`%w: negative hang warning %v`, ErrInvalidOption, d)
		}
		opts.hangWarning = d
		return nil
	}}
}

// WithLinkPool shares a link pool between graphs, or with other lockfree
// containers.
func WithLinkPool(pool *lockfree.LinkPool) Option {
	return &optionImpl{func(opts *options) error {
		opts.links = pool
		return nil
	}}
}

func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		hangWarning:  DefaultHangWarning,
		highPriority: true,
		background:   true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.loggerSet {
		cfg.logger = newDefaultLogger()
	}
	if cfg.links == nil {
		cfg.links = lockfree.NewLinkPool()
	}
	return cfg, nil
}

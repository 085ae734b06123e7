// Package async provides panic-isolated goroutine helpers shared by the
// event bus, the plugin directory watch, and scheduler timers.
package async

import (
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn in a goroutine guarded by panic recovery, logging through
// logger rather than crashing the process.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs panic details without crashing the process. Deferred
// directly in a goroutine body.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			return
		}
		if name == "" {
			logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
			return
		}
		logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
	}
}

// FanOut runs each of fns concurrently, recovering individual panics so
// one misbehaving function never aborts its siblings, and returns once
// all have completed. It never returns an error itself: each fn's
// returned error is reported to onErr, while a recovered panic is only
// logged through logger and is not passed to onErr, mirroring the bus's
// "isolate and continue" fault policy.
func FanOut(logger PanicLogger, name string, fns []func() error, onErr func(int, error)) {
	var g errgroup.Group
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					if logger != nil {
						logger.Error("goroutine panic [%s#%d]: %v, stack: %s", name, i, r, debug.Stack())
					}
					err = nil
				}
			}()
			if fnErr := fn(); fnErr != nil && onErr != nil {
				onErr(i, fnErr)
			}
			return nil
		})
	}
	_ = g.Wait()
}

package asynctls

import (
	"context"
	"github.com/brickingsoft/rxp"
	"runtime"
	"sync"
)

var (
	executors     rxp.Executors = nil
	executorsOnce sync.Once
)

// Startup installs a customized global executors instance. The futures
// returned by Connect, Accept and the stream operations complete on these
// executors. Call it at program start or not at all: a default instance is
// created lazily otherwise.
func Startup(options ...rxp.Option) (err error) {
	executors, err = rxp.New(options...)
	return
}

// Shutdown closes the global executors. Close waits for running tasks to
// finish before returning.
func Shutdown() error {
	runtime.SetFinalizer(executors, nil)
	return Executors().Close()
}

// ShutdownGracefully closes the global executors after all tasks finished.
// It is equivalent to Shutdown, since Close already drains running tasks.
func ShutdownGracefully() error {
	return Shutdown()
}

func Executors() rxp.Executors {
	executorsOnce.Do(func() {
		if executors == nil {
			execs, newErr := rxp.New()
			if newErr != nil {
				panic(newErr)
			}
			executors = execs
			runtime.SetFinalizer(executors, rxp.Executors.Close)
		}
	})
	return executors
}

// Background returns a context carrying the global executors, suitable as the
// root ctx for Connect and Accept.
func Background() context.Context {
	return rxp.With(context.Background(), Executors())
}

func withExecutors(ctx context.Context) context.Context {
	if _, has := rxp.TryFrom(ctx); has {
		return ctx
	}
	return rxp.With(ctx, Executors())
}

// Package lifecycle provides process-wide shutdown plumbing shared by the
// buildercore daemons: a cancelable context tied to SIGINT/SIGTERM, and an
// at-exit registry for flushing stores and closing dispatcher connections
// in the right order.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/xerrors"
)

// InterruptibleContext returns a context which is canceled when the process
// receives SIGINT or SIGTERM.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// A second signal terminates immediately, in case shutdown hangs.
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}

var atExit struct {
	sync.Mutex
	fns    []func() error
	closed uint32
}

// RegisterAtExit queues fn to run during RunAtExit, in registration order.
func RegisterAtExit(fn func() error) {
	if atomic.LoadUint32(&atExit.closed) != 0 {
		panic("BUG: RegisterAtExit must not be called from an atExit func")
	}
	atExit.Lock()
	defer atExit.Unlock()
	atExit.fns = append(atExit.fns, fn)
}

// RunAtExit runs every registered at-exit function in registration order
// (a hook registered before another runs, and finishes, before it),
// stopping at the first error. Only the first call runs the hooks;
// calling RunAtExit again is a no-op. serve's RunE calls it after
// eg.Wait returns.
func RunAtExit() error {
	if !atomic.CompareAndSwapUint32(&atExit.closed, 0, 1) {
		return nil
	}
	atExit.Lock()
	fns := atExit.fns
	atExit.Unlock()
	for i, fn := range fns {
		if err := fn(); err != nil {
			return xerrors.Errorf("at-exit hook %d: %w", i, err)
		}
	}
	return nil
}

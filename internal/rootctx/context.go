// Package rootctx provides the process-wide, signal-aware context used to
// drive graceful shutdown of the supervisor and its backends.
package rootctx

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// signalHandler turns repeated interrupts into two cancellation levels: the
// first signal requests a graceful shutdown, the third forces backends to
// kill whatever they manage outright.
type signalHandler struct {
	mu           sync.Mutex
	sigCount     int
	gracefulCtx  context.Context
	gracefulStop context.CancelFunc
	forceKillCtx context.Context
	forceKillStop context.CancelFunc
	onForceKill  func()
}

func newSignalHandler(sigCh <-chan os.Signal) *signalHandler {
	gracefulCtx, gracefulStop := context.WithCancel(context.Background())
	forceKillCtx, forceKillStop := context.WithCancel(context.Background())
	sh := &signalHandler{
		gracefulCtx:   gracefulCtx,
		gracefulStop:  gracefulStop,
		forceKillCtx:  forceKillCtx,
		forceKillStop: forceKillStop,
	}
	go sh.handle(sigCh)
	return sh
}

func (sh *signalHandler) handle(sigCh <-chan os.Signal) {
	for sig := range sigCh {
		sh.mu.Lock()
		sh.sigCount++
		count := sh.sigCount
		sh.mu.Unlock()

		switch count {
		case 1:
			slog.Warn("received signal, shutting down gracefully (interrupt 2 more times to force kill)", "signal", sig)
			sh.gracefulStop()
		case 2:
			slog.Warn("received signal again (interrupt 1 more time to force kill)", "signal", sig)
		default:
			slog.Warn("force killing managed resources")
			if sh.onForceKill != nil {
				sh.onForceKill()
			}
			sh.forceKillStop()
		}
	}
}

var (
	root *signalHandler
	once sync.Once
)

func ensure() *signalHandler {
	once.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		root = newSignalHandler(sigCh)
	})
	return root
}

// Get returns the context cancelled on the first interrupt signal.
func Get() context.Context {
	return ensure().gracefulCtx
}

// GetForceKillCtx returns the context cancelled only after a third interrupt,
// used by backends to decide between a graceful stop and an immediate kill.
func GetForceKillCtx() context.Context {
	return ensure().forceKillCtx
}

// OnForceKill registers a callback invoked just before the force-kill context
// is cancelled, giving backends a chance to tear down unmanaged resources.
func OnForceKill(fn func()) {
	sh := ensure()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.onForceKill = fn
}

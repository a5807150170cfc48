package server

import (
	"context"
	"sync"
)

// ServerContext tracks the lifecycle of a running server. Readiness reports
// unavailable once Shutdown has been called.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext derives a cancellable context from ctx.
func NewServerContext(ctx context.Context) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
	}
}

// Context returns the server context. It is cancelled by Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown marks the server as shutting down and cancels its context.
func (sc *ServerContext) Shutdown() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return
	}

	sc.shutdown = true
	sc.cancel()
}

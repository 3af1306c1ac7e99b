// Package telemetry holds the out-of-band sinks of the identity service:
// asynchronous audit mirroring and Prometheus metrics.
package telemetry

import (
	"context"
	"sync"
	"time"

	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/audit/domain"
)

// emitTimeout bounds a single mirrored emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long the server waits after draining requests before
// shutting down the OTel providers. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// AsyncEmitter runs the wrapped emitter off the request goroutine so a slow sink
// never delays an audited operation.
type AsyncEmitter struct {
	inner audit.Emitter
	wg    sync.WaitGroup
}

// NewAsyncEmitter wraps inner. A nil inner yields an emitter that drops everything.
func NewAsyncEmitter(inner audit.Emitter) *AsyncEmitter {
	return &AsyncEmitter{inner: inner}
}

// Emit hands e to the wrapped emitter on a new goroutine. Request cancellation
// does not abort the emit.
func (a *AsyncEmitter) Emit(_ context.Context, e *domain.Entry) {
	if a.inner == nil || e == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		a.inner.Emit(ctx, e)
	}()
}

// Wait blocks until in-flight emits finish or ctx ends.
func (a *AsyncEmitter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fanout sends every entry to each non-nil emitter in order.
type Fanout []audit.Emitter

// Emit implements audit.Emitter.
func (f Fanout) Emit(ctx context.Context, e *domain.Entry) {
	for _, em := range f {
		if em != nil {
			em.Emit(ctx, e)
		}
	}
}

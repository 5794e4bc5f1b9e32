package agent

import (
	"context"
	"sync"

	"github.com/jholhewres/aide/pkg/aide/llm"
)

// UsageFuture resolves exactly once with the run's token usage, or nil
// when the provider did not report any. It resolves after the last
// stream event has been yielded.
type UsageFuture struct {
	once  sync.Once
	done  chan struct{}
	usage *llm.Usage
}

// NewUsageFuture creates an unresolved future.
func NewUsageFuture() *UsageFuture {
	return &UsageFuture{done: make(chan struct{})}
}

// resolve sets the value. Later calls are no-ops.
func (f *UsageFuture) resolve(u *llm.Usage) {
	f.once.Do(func() {
		f.usage = u
		close(f.done)
	})
}

// Await blocks until the future resolves or ctx is done.
func (f *UsageFuture) Await(ctx context.Context) (*llm.Usage, error) {
	select {
	case <-f.done:
		return f.usage, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolved reports whether the future has a value without blocking.
func (f *UsageFuture) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

package lock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process lock. Unlike sync.Mutex it gives up after a
// timeout.
type Local struct {
	ch chan struct{}
}

func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

func (l *Local) Acquire(ctx context.Context, timeout time.Duration) (Release, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case l.ch <- struct{}{}:
	case <-t.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() error {
		once.Do(func() { <-l.ch })
		return nil
	}, nil
}

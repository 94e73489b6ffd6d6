// Package lock serializes cycles so that overlapping invocations never
// interleave a read-modify-write of the ledger.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the lock is still held by someone else after
// the timeout. It is transient; the next cycle retries.
var ErrTimeout = errors.New("lock timeout")

// ErrLeaseLost is returned by Release when the lease expired or was taken
// over while held.
var ErrLeaseLost = errors.New("lock lease lost")

// Release gives the lock back. It is safe to call more than once.
type Release func() error

type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) (Release, error)
}

// poll retries try until it succeeds, the timeout passes or ctx is done.
func poll(ctx context.Context, timeout, every time.Duration, try func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return ErrTimeout
		}
		if wait > every {
			wait = every
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// lease extends a held lock every ttl/3 until stopped. renew reports
// whether the lock is still ours; the first false or error ends the lease.
type lease struct {
	stop chan struct{}
	done chan struct{}
	lost error
}

func keepAlive(ttl time.Duration, renew func(context.Context) (bool, error)) *lease {
	l := &lease{stop: make(chan struct{}), done: make(chan struct{})}
	every := ttl / 3
	if every <= 0 {
		every = time.Millisecond
	}
	go func() {
		defer close(l.done)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-t.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), ttl)
			ok, err := renew(ctx)
			cancel()
			if err != nil {
				l.lost = fmt.Errorf("%w: %v", ErrLeaseLost, err)
				return
			}
			if !ok {
				l.lost = ErrLeaseLost
				return
			}
		}
	}()
	return l
}

// end stops renewing and reports whether the lease was lost on the way.
func (l *lease) end() error {
	close(l.stop)
	<-l.done
	return l.lost
}

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Dispatcher hands notifications to a Notifier on a background goroutine.
// When the queue is full new notifications are dropped rather than
// blocking the caller.
type Dispatcher struct {
	to      Notifier
	log     logrus.FieldLogger
	timeout time.Duration

	queue chan *Notification
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

func NewDispatcher(to Notifier, log logrus.FieldLogger, size int) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	d := &Dispatcher{
		to:      to,
		log:     log.WithField("component", "notify"),
		timeout: 10 * time.Second,
		queue:   make(chan *Notification, size),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// Notify queues n. It never blocks.
func (d *Dispatcher) Notify(n *Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- n:
	default:
		d.dropped++
		d.log.WithField("kind", n.Kind).Warn("notification queue full, dropping")
	}
}

// Dropped reports how many notifications were discarded.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops accepting notifications and waits for the queue to drain or
// ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.to.Send(ctx, n); err != nil {
			d.log.WithError(err).WithField("kind", n.Kind).Warn("notification failed")
		}
		cancel()
	}
}

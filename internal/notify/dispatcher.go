package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notification dispatcher closed")
)

// Dispatcher hands events to a sink on a background goroutine so callers
// never wait on delivery. Events that do not fit in the queue are dropped.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	log     logrus.FieldLogger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, size int, log logrus.FieldLogger) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, size),
		log:     log,
		timeout: 5 * time.Second,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) Notify(_ context.Context, event, userID string, payload map[string]any) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- Event{Name: event, UserID: userID, Payload: payload, Timestamp: time.Now()}:
		return nil
	default:
		d.log.WithFields(logrus.Fields{"event": event, "user_id": userID}).Warn("notification dropped, queue full")
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Notify(ctx, ev.Name, ev.UserID, ev.Payload); err != nil {
			d.log.WithFields(logrus.Fields{
				"event":   ev.Name,
				"user_id": ev.UserID,
				"error":   err.Error(),
			}).Error("notification delivery failed")
		}
		cancel()
	}
}

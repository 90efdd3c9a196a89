package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type DispatcherConfig struct {
	QueueSize int
	Workers   int
	// Timeout bounds a single RecordEvent call.
	Timeout time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{QueueSize: 256, Workers: 2, Timeout: 5 * time.Second}
}

// Dispatcher hands events to a Sink on background workers. Emit never
// blocks; when the queue is full the event is dropped and logged.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	timeout time.Duration
	log     logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, cfg DispatcherConfig, log logrus.FieldLogger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, cfg.QueueSize),
		timeout: cfg.Timeout,
		log:     log.WithField("component", "audit"),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Emit enqueues evt and reports whether it was accepted.
func (d *Dispatcher) Emit(evt Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.WithField("order_id", evt.OrderID).Warn("audit dispatcher closed, dropping event")
		return false
	}
	select {
	case d.queue <- evt:
		return true
	default:
		d.log.WithFields(logrus.Fields{
			"order_id": evt.OrderID,
			"action":   evt.Action,
		}).Warn("audit queue full, dropping event")
		return false
	}
}

// Close stops accepting events and waits for queued ones to drain or for
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

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for evt := range d.queue {
		d.record(evt)
	}
}

func (d *Dispatcher) record(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.RecordEvent(ctx, evt); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"order_id": evt.OrderID,
			"action":   evt.Action,
			"event_id": evt.ID.String(),
		}).Warn("audit record failed")
	}
}

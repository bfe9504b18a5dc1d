package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/rmf-intake/internal/events"
)

const defaultQueueSize = 256

// Deliverer sends one event somewhere outside the process.
type Deliverer interface {
	Events() []events.EventType
	Deliver(ctx context.Context, event events.Event) error
}

// NotificationWorker moves event delivery off the request path. Events are
// queued by dispatcher handlers and delivered by a single goroutine. A full
// queue drops the event with a warning.
type NotificationWorker struct {
	deliverer Deliverer
	queue     chan events.Event
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotificationWorker creates a worker with the given queue size.
func NewNotificationWorker(deliverer Deliverer, queueSize int, logger *zap.Logger) *NotificationWorker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{
		deliverer: deliverer,
		queue:     make(chan events.Event, queueSize),
		logger:    logger,
	}
}

// Subscribe registers the worker for every event the deliverer wants.
func (w *NotificationWorker) Subscribe(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	for _, eventType := range w.deliverer.Events() {
		dispatcher.Subscribe(eventType, w.enqueue)
	}
}

func (w *NotificationWorker) enqueue(_ context.Context, event events.Event) error {
	select {
	case w.queue <- event:
	default:
		w.logger.Warn("notification queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("control_number", event.ControlNumber))
	}
	return nil
}

// Start launches the delivery loop. It runs until Stop or ctx ends.
func (w *NotificationWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-w.queue:
				w.deliver(ctx, event)
			}
		}
	}()
}

func (w *NotificationWorker) deliver(ctx context.Context, event events.Event) {
	if err := w.deliverer.Deliver(ctx, event); err != nil {
		w.logger.Warn("notification delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.String("control_number", event.ControlNumber),
			zap.Error(err))
	}
}

// Stop ends the delivery loop and waits for it. Events still queued are
// dropped.
func (w *NotificationWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

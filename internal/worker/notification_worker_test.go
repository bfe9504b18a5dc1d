package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/rmf-intake/internal/events"
)

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []events.Event
	fail      bool
}

func (r *recordingDeliverer) Events() []events.EventType {
	return []events.EventType{events.EventTicketCreated, events.EventTicketStatusChanged}
}

func (r *recordingDeliverer) Deliver(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, event)
	if r.fail {
		return errors.New("webhook down")
	}
	return nil
}

func (r *recordingDeliverer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}

func TestNotificationWorker_DeliversSubscribedEvents(t *testing.T) {
	deliverer := &recordingDeliverer{}
	dispatcher := events.NewInMemoryDispatcher()
	w := NewNotificationWorker(deliverer, 8, nil)
	w.Subscribe(dispatcher)
	w.Start(context.Background())
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, dispatcher.Publish(ctx, events.Event{Type: events.EventTicketCreated, ControlNumber: "RMF-ELEC-2024-03-001"}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{Type: events.EventTicketRemarkAdded, ControlNumber: "RMF-ELEC-2024-03-001"}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{Type: events.EventTicketStatusChanged, ControlNumber: "RMF-ELEC-2024-03-001"}))

	assert.Eventually(t, func() bool { return deliverer.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestNotificationWorker_DeliveryFailureIsNotSurfaced(t *testing.T) {
	deliverer := &recordingDeliverer{fail: true}
	dispatcher := events.NewInMemoryDispatcher()
	w := NewNotificationWorker(deliverer, 8, nil)
	w.Subscribe(dispatcher)
	w.Start(context.Background())
	defer w.Stop()

	err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketCreated})
	assert.NoError(t, err)
	assert.Eventually(t, func() bool { return deliverer.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestNotificationWorker_FullQueueDropsWithoutBlocking(t *testing.T) {
	deliverer := &recordingDeliverer{}
	w := NewNotificationWorker(deliverer, 1, nil)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = w.enqueue(ctx, events.Event{Type: events.EventTicketCreated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	assert.Len(t, w.queue, 1)
}

func TestNotificationWorker_StopWithoutStart(t *testing.T) {
	w := NewNotificationWorker(&recordingDeliverer{}, 0, nil)
	assert.Equal(t, defaultQueueSize, cap(w.queue))
	w.Stop()
}

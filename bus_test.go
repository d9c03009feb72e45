package goingest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus(t *testing.T) {
	t.Run("DeliveryOrder", func(t *testing.T) {
		// ARRANGE
		bus := NewBus()
		var calls []string
		bus.Subscribe(ObserverFunc(func(e Event) { calls = append(calls, "first:"+string(e.Kind())) }))
		id := bus.Subscribe(ObserverFunc(func(e Event) { calls = append(calls, "second:"+string(e.Kind())) }))
		bus.Subscribe(ObserverFunc(func(e Event) { calls = append(calls, "third:"+string(e.Kind())) }))

		// ACT
		bus.Publish(&ImportDone{})
		bus.Unsubscribe(id)
		bus.Publish(&ImportFailed{})

		// ASSERT
		assert.Equalf(t, []string{
			"first:import_done", "second:import_done", "third:import_done",
			"first:import_failed", "third:import_failed",
		}, calls, "delivery mismatch")
		assert.Equalf(t, 2, bus.Len(), "observers number mismatch")
	})

	t.Run("SubscribeFromObserver", func(t *testing.T) {
		// ARRANGE
		bus := NewBus()
		late := &eventRecorder{}
		bus.Subscribe(ObserverFunc(func(e Event) {
			if e.Kind() == KindImportDone {
				bus.Subscribe(late)
			}
		}))

		// ACT
		bus.Publish(&ImportDone{})
		bus.Publish(&ImportFailed{})

		// ASSERT
		assert.Equalf(t, 1, len(late.events), "late observer expected to receive the following events only")
	})

	t.Run("NilBus", func(t *testing.T) {
		var bus *Bus
		assert.NotPanicsf(t, func() { bus.Publish(&ImportDone{}) }, "publishing on a nil bus must be a no-op")
	})

	t.Run("ConcurrentPublish", func(t *testing.T) {
		// ARRANGE
		bus, rec := newRecordingBus()
		var wg sync.WaitGroup

		// ACT
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bus.Publish(&StepProgress{})
			}()
		}
		wg.Wait()

		// ASSERT
		assert.Equalf(t, 10, len(rec.ofKind(KindStepProgress)), "events number mismatch")
	})
}

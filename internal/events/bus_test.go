package events

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlab/devgate/pkg/sdk"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var got []int
	for i := range 5 {
		bus.Subscribe(func(sdk.Event) { got = append(got, i) })
	}

	bus.Publish(sdk.Shell{Message: "hello"})

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestPublishExactlyOncePerSubscriber(t *testing.T) {
	bus := NewBus()
	counts := make([]int, 3)
	for i := range counts {
		bus.Subscribe(func(sdk.Event) { counts[i]++ })
	}

	bus.Publish(sdk.Command{Source: "sdcard", Code: sdk.CommandInserted})
	bus.Publish(sdk.Command{Source: "sdcard", Code: sdk.CommandRemoved})

	assert.Equal(t, []int{2, 2, 2}, counts)
}

func TestPublishIsSynchronous(t *testing.T) {
	bus := NewBus()
	var seen sdk.Event
	bus.Subscribe(func(ev sdk.Event) { seen = ev })

	bus.Publish(sdk.StateChanged{Device: "sdcard", State: sdk.Document{"state": "inserted"}})

	require.NotNil(t, seen)
	sc, ok := seen.(sdk.StateChanged)
	require.True(t, ok)
	assert.Equal(t, "sdcard", sc.Device)
}

func TestSubscriberAddedMidDispatchDoesNotSeeEvent(t *testing.T) {
	bus := NewBus()
	late := 0
	bus.Subscribe(func(sdk.Event) {
		bus.Subscribe(func(sdk.Event) { late++ })
	})

	bus.Publish(sdk.Shell{Message: "first"})
	assert.Equal(t, 0, late)

	bus.Publish(sdk.Shell{Message: "second"})
	assert.Equal(t, 1, late)
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	n := 0
	sub := bus.Subscribe(func(sdk.Event) { n++ })

	bus.Publish(sdk.Shell{})
	sub.Cancel()
	sub.Cancel()
	bus.Publish(sdk.Shell{})

	assert.Equal(t, 1, n)
	assert.Equal(t, 0, bus.Len())
}

func TestCancelledMidDispatchIsSkipped(t *testing.T) {
	bus := NewBus()
	var second sdk.Subscription
	called := false
	bus.Subscribe(func(sdk.Event) { second.Cancel() })
	second = bus.Subscribe(func(sdk.Event) { called = true })

	bus.Publish(sdk.Shell{})

	assert.False(t, called)
}

func TestNestedPublish(t *testing.T) {
	bus := NewBus()
	var kinds []string
	bus.Subscribe(func(ev sdk.Event) {
		kinds = append(kinds, ev.Kind())
		if c, ok := ev.(sdk.Command); ok {
			bus.Publish(sdk.StateChanged{Device: c.Source})
		}
	})

	bus.Publish(sdk.Command{Source: "sdcard", Code: sdk.CommandInserted})

	assert.Equal(t, []string{"sdcard-det", sdk.KindStateChanged}, kinds)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus()
	var total atomic.Int64
	bus.Subscribe(func(sdk.Event) { total.Add(1) })

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 100 {
				bus.Publish(sdk.Shell{})
			}
		}()
		go func() {
			defer wg.Done()
			for range 10 {
				bus.Subscribe(func(sdk.Event) {}).Cancel()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), total.Load())
	assert.Equal(t, 1, bus.Len())
}

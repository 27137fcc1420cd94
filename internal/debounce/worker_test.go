package debounce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlab/devgate/internal/events"
	"github.com/emberlab/devgate/internal/watchdog"
	"github.com/emberlab/devgate/pkg/sdk"
)

type recorder struct {
	mu   sync.Mutex
	cmds []sdk.Command
}

func (r *recorder) handle(ev sdk.Event) {
	if c, ok := ev.(sdk.Command); ok {
		r.mu.Lock()
		r.cmds = append(r.cmds, c)
		r.mu.Unlock()
	}
}

func (r *recorder) snapshot() []sdk.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sdk.Command(nil), r.cmds...)
}

func start(t *testing.T, opts Options) (*Worker, *recorder, *watchdog.Monitor) {
	t.Helper()
	bus := events.NewBus()
	rec := &recorder{}
	bus.Subscribe(rec.handle)
	mon := watchdog.New(time.Minute)
	w := New("sdcard", bus, mon, nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, rec, mon
}

func TestRapidEdgesCoalesce(t *testing.T) {
	w, rec, _ := start(t, Options{Settle: 30 * time.Millisecond})

	require.True(t, w.Notify(200*time.Millisecond))
	require.True(t, w.Notify(150*time.Millisecond))

	require.Eventually(t, func() bool { return w.Stats().Received == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	cmds := rec.snapshot()
	require.Len(t, cmds, 1)
	assert.Equal(t, sdk.CommandRemoved, cmds[0].Code)
	assert.Equal(t, "sdcard-det", cmds[0].Kind())
}

func TestFinalDirectionWins(t *testing.T) {
	w, rec, _ := start(t, Options{Settle: 30 * time.Millisecond})

	w.Notify(-200 * time.Millisecond)
	w.Notify(150 * time.Millisecond)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	cmds := rec.snapshot()
	require.Len(t, cmds, 1)
	assert.Equal(t, sdk.CommandRemoved, cmds[0].Code)
}

func TestSpacedEdgesCoalesce(t *testing.T) {
	w, rec, _ := start(t, Options{})

	require.True(t, w.Notify(-200*time.Millisecond))
	time.Sleep(150 * time.Millisecond)
	require.True(t, w.Notify(150*time.Millisecond))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	cmds := rec.snapshot()
	require.Len(t, cmds, 1)
	assert.Equal(t, sdk.CommandRemoved, cmds[0].Code)
	assert.Equal(t, uint64(2), w.Stats().Received)
}

func TestEdgeRestartsSettleWindow(t *testing.T) {
	w, rec, _ := start(t, Options{Settle: 400 * time.Millisecond})

	w.Notify(-time.Second)
	time.Sleep(200 * time.Millisecond)
	w.Notify(200 * time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sdk.CommandRemoved, rec.snapshot()[0].Code)
}

func TestOnePublishPerStableTransition(t *testing.T) {
	w, rec, _ := start(t, Options{Settle: 10 * time.Millisecond})

	w.Notify(-time.Second)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	w.Notify(-time.Second)
	require.Eventually(t, func() bool { return w.Stats().Received == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)

	w.Notify(time.Second)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	cmds := rec.snapshot()
	assert.Equal(t, sdk.CommandInserted, cmds[0].Code)
	assert.Equal(t, sdk.CommandRemoved, cmds[1].Code)
	assert.Equal(t, uint64(2), w.Stats().Published)
}

func TestNotifyDropsWhenFull(t *testing.T) {
	w := New("sdcard", events.NewBus(), nil, nil, Options{})
	for range QueueSize {
		require.True(t, w.Notify(time.Millisecond))
	}
	assert.False(t, w.Notify(time.Millisecond))
	assert.Equal(t, uint64(1), w.Stats().Dropped)
}

type countingBeat struct {
	mu    sync.Mutex
	kicks map[string]int
}

func (c *countingBeat) Kick(name string) {
	c.mu.Lock()
	c.kicks[name]++
	c.mu.Unlock()
}

func (c *countingBeat) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kicks[name]
}

func TestHeartbeatWhileIdle(t *testing.T) {
	hb := &countingBeat{kicks: map[string]int{}}
	w := New("sdcard", events.NewBus(), hb, nil, Options{Wait: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	assert.Eventually(t, func() bool { return hb.count("debounce:sdcard") >= 3 }, time.Second, 5*time.Millisecond)
}

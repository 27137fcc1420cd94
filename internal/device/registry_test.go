package device

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlab/devgate/pkg/sdk"
)

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(DefaultPolicy())
	dev := &fakeDevice{name: "a"}
	require.NoError(t, r.Register("a", func() (sdk.Device, error) { return dev, nil }))

	err := r.Register("a", func() (sdk.Device, error) { return dev, nil })
	assert.ErrorIs(t, err, sdk.ErrResourceBusy)
	assert.ErrorIs(t, r.Register("", nil), sdk.ErrInvalidArgument)
}

func TestGetConstructsOnce(t *testing.T) {
	r := newTestRegistry(DefaultPolicy())
	dev := &fakeDevice{name: "a"}
	var calls atomic.Int32
	require.NoError(t, r.Register("a", countingFactory(dev, &calls)))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Get(context.Background(), "a")
			assert.NoError(t, err)
			assert.Same(t, dev, got)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, dev.inits)
	assert.Equal(t, "initialized", r.Status()[0].Lifecycle)
}

func TestGetUnknown(t *testing.T) {
	r := newTestRegistry(DefaultPolicy())
	_, err := r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, sdk.ErrNotFound)
}

func TestInitRetriedThenFaulted(t *testing.T) {
	r := newTestRegistry(Policy{InitAttempts: 3, InitBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond})
	var delays []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	dev := &fakeDevice{name: "a", initErr: errBoom}
	var calls atomic.Int32
	require.NoError(t, r.Register("a", countingFactory(dev, &calls)))

	_, err := r.Get(context.Background(), "a")
	require.ErrorIs(t, err, sdk.ErrFaulted)
	assert.True(t, IsFaulted(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, dev.inits)
	assert.True(t, dev.closed)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)

	// no further attempts once faulted
	_, err = r.Get(context.Background(), "a")
	assert.ErrorIs(t, err, sdk.ErrFaulted)
	assert.Equal(t, int32(3), calls.Load())

	st := r.Status()[0]
	assert.Equal(t, "faulted", st.Lifecycle)
	assert.Contains(t, st.Error, "boom")
}

func TestInitRecoversOnRetry(t *testing.T) {
	r := newTestRegistry(DefaultPolicy())
	var calls atomic.Int32
	require.NoError(t, r.Register("a", func() (sdk.Device, error) {
		if calls.Add(1) == 1 {
			return nil, errBoom
		}
		return &fakeDevice{name: "a"}, nil
	}))

	dev, err := r.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", dev.Name())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDeviceContext(t *testing.T) {
	r := newTestRegistry(DefaultPolicy())
	dev := &fakeDevice{name: "a"}
	require.NoError(t, r.Register("a", func() (sdk.Device, error) { return dev, nil }))
	r.Start(context.Background())

	require.NotNil(t, dev.ctx)
	assert.NotNil(t, dev.ctx.Log())
	assert.NotNil(t, dev.ctx.Bus())
	assert.NoError(t, dev.ctx.Lifetime().Err())

	r.Close()
	assert.Error(t, dev.ctx.Lifetime().Err())
	assert.True(t, dev.closed)
}

func TestPollTransitionsAndFaults(t *testing.T) {
	r := newTestRegistry(Policy{MaxPollFailures: 3})
	good := &fakeDevice{name: "good", caps: sdk.CapSensors}
	bad := &fakeDevice{name: "bad", caps: sdk.CapSensors, pollErr: errBoom}
	plain := &fakeDevice{name: "plain"}
	for _, d := range []*fakeDevice{good, bad, plain} {
		require.NoError(t, r.Register(d.name, func() (sdk.Device, error) { return d, nil }))
	}
	ctx := context.Background()

	r.Poll(ctx)
	st := r.Status()
	assert.Equal(t, "polling", st[0].Lifecycle)
	assert.Equal(t, "initialized", st[1].Lifecycle)
	assert.Equal(t, "initialized", st[2].Lifecycle)
	assert.Equal(t, 0, plain.pollCount())

	r.Poll(ctx)
	r.Poll(ctx)
	assert.Equal(t, "faulted", r.Status()[1].Lifecycle)

	r.Poll(ctx)
	assert.Equal(t, 3, bad.pollCount())
	assert.Equal(t, 4, good.pollCount())

	_, err := r.Get(ctx, "bad")
	assert.ErrorIs(t, err, sdk.ErrFaulted)
}

func TestPollFailureCounterResets(t *testing.T) {
	r := newTestRegistry(Policy{MaxPollFailures: 2})
	dev := &fakeDevice{name: "a", caps: sdk.CapSensors, pollErr: errBoom}
	require.NoError(t, r.Register("a", func() (sdk.Device, error) { return dev, nil }))
	ctx := context.Background()

	r.Poll(ctx)
	dev.mu.Lock()
	dev.pollErr = nil
	dev.mu.Unlock()
	r.Poll(ctx)
	dev.mu.Lock()
	dev.pollErr = errBoom
	dev.mu.Unlock()
	r.Poll(ctx)

	assert.Equal(t, "polling", r.Status()[0].Lifecycle)
}

func TestCallerCancelDuringBackoffDoesNotFault(t *testing.T) {
	r := newTestRegistry(DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(sleepCtx context.Context, _ time.Duration) error {
		cancel()
		return sleepCtx.Err()
	}
	dev := &fakeDevice{name: "a"}
	var calls atomic.Int32
	require.NoError(t, r.Register("a", func() (sdk.Device, error) {
		if calls.Add(1) == 1 {
			return nil, errBoom
		}
		return dev, nil
	}))

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, dev, got)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "initialized", r.Status()[0].Lifecycle)

	_, err = r.Get(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatesSkipsUnconstructedAndFaulted(t *testing.T) {
	r := newTestRegistry(Policy{InitAttempts: 1})
	require.NoError(t, r.Register("ok", func() (sdk.Device, error) { return &fakeDevice{name: "ok"}, nil }))
	require.NoError(t, r.Register("bad", func() (sdk.Device, error) { return &fakeDevice{name: "bad", initErr: errBoom}, nil }))
	require.NoError(t, r.Register("lazy", func() (sdk.Device, error) { return &fakeDevice{name: "lazy"}, nil }))

	assert.Empty(t, r.States())

	_, _ = r.Get(context.Background(), "ok")
	_, _ = r.Get(context.Background(), "bad")
	states := r.States()
	require.Len(t, states, 1)
	assert.Equal(t, "ok", states[0].Device)
	assert.Equal(t, "ok", states[0].State["state"])
}

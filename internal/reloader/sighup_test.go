//go:build unix

package reloader

import (
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnSIGHUP(t *testing.T) {
	var calls atomic.Int32
	stop := OnSIGHUP(func() { calls.Add(1) })

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	stop()
	assert.NotPanics(t, stop)
}

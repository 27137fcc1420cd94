package reloader

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// OnSIGHUP calls fn for every SIGHUP until the returned stop func is
// called. Calls to fn never overlap.
func OnSIGHUP(fn func()) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				fn()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

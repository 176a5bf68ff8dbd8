package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tobert/jpm-dash/internal/timewindow"
)

// ReloadHook registers callback to be invoked whenever a refresh is
// requested and returns a function that unregisters it.
type ReloadHook func(callback func()) (stop func())

// Bind routes every invocation of hook into Refresh using the range window
// returns at that moment. The binding ends when ctx is done or stop is called.
func (c *Controller) Bind(ctx context.Context, hook ReloadHook, window func() timewindow.Range) (stop func()) {
	unregister := hook(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.Refresh(ctx, window()); err != nil {
			log.Printf("⚠️  dashboard: reload rejected: %v\n", err)
		}
	})

	var once sync.Once
	stop = func() { once.Do(unregister) }
	context.AfterFunc(ctx, stop)
	return stop
}

// Window returns a range function for a trailing window of length d.
func Window(d time.Duration, now func() time.Time) func() timewindow.Range {
	return func() timewindow.Range {
		return timewindow.Last(d, now())
	}
}

// Periodic returns a hook that fires every interval.
func Periodic(interval time.Duration) ReloadHook {
	return func(callback func()) func() {
		ticker := time.NewTicker(interval)
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-ticker.C:
					callback()
				case <-done:
					return
				}
			}
		}()

		var once sync.Once
		return func() {
			once.Do(func() {
				ticker.Stop()
				close(done)
			})
		}
	}
}

// Trigger is a manually fired reload hook, used by the web UI and MCP
// surfaces to request a refresh of the current window.
type Trigger struct {
	mu        sync.Mutex
	callbacks map[uint64]func()
	nextID    uint64
}

// NewTrigger creates a trigger with no registered callbacks.
func NewTrigger() *Trigger {
	return &Trigger{callbacks: make(map[uint64]func())}
}

// Hook adapts the trigger to a ReloadHook.
func (t *Trigger) Hook() ReloadHook {
	return func(callback func()) func() {
		t.mu.Lock()
		id := t.nextID
		t.nextID++
		t.callbacks[id] = callback
		t.mu.Unlock()

		return func() {
			t.mu.Lock()
			delete(t.callbacks, id)
			t.mu.Unlock()
		}
	}
}

// Fire invokes every registered callback and returns how many ran.
func (t *Trigger) Fire() int {
	t.mu.Lock()
	callbacks := make([]func(), 0, len(t.callbacks))
	for _, cb := range t.callbacks {
		callbacks = append(callbacks, cb)
	}
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return len(callbacks)
}

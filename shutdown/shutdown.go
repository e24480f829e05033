package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

func Notify(ch chan os.Signal) {
	signal.Notify(ch, signals...)
}

// Hooks runs cleanup functions once, newest first.
type Hooks struct {
	mu   sync.Mutex
	fns  []func()
	once sync.Once
}

func (h *Hooks) Add(fn func()) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *Hooks) Run() {
	h.once.Do(func() {
		h.mu.Lock()
		fns := h.fns
		h.fns = nil
		h.mu.Unlock()
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	})
}

// OnSignal calls fn on the first termination signal or when ctx ends,
// whichever comes first.
func OnSignal(ctx context.Context, fn func(os.Signal)) {
	ch := make(chan os.Signal, 1)
	Notify(ch)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			fn(sig)
		case <-ctx.Done():
		}
	}()
}

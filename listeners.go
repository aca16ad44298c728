package scancapture

import "sync"

// Dedup returns a Listener that forwards a payload to l only when it differs
// from the previously forwarded one.
func Dedup(l Listener) Listener {
	return &dedupListener{next: l}
}

type dedupListener struct {
	next Listener

	mu   sync.Mutex
	last string
	seen bool
}

func (d *dedupListener) OnDecoded(text string) {
	d.mu.Lock()
	if d.seen && text == d.last {
		d.mu.Unlock()
		return
	}
	d.last, d.seen = text, true
	d.mu.Unlock()

	d.next.OnDecoded(text)
}

// Fanout returns a Listener that forwards every payload to each non-nil
// listener, in order.
func Fanout(listeners ...Listener) Listener {
	out := make(fanout, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

type fanout []Listener

func (f fanout) OnDecoded(text string) {
	for _, l := range f {
		l.OnDecoded(text)
	}
}

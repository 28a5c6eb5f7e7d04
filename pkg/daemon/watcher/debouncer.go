package watcher

import (
	"slices"
	"sync"
	"time"
)

// Debouncer collects dirty roots and emits them as one batch after a quiet
// period. A root marked several times within the window appears once.
type Debouncer struct {
	interval time.Duration

	mu     sync.Mutex
	roots  map[string]struct{}
	timer  *time.Timer
	output chan []string
	closed bool
}

// NewDebouncer creates a debouncer with the given quiet interval.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		roots:    make(map[string]struct{}),
		output:   make(chan []string, 16),
	}
}

// Output returns the channel that receives sorted batches of roots.
func (d *Debouncer) Output() <-chan []string {
	return d.output
}

// Add marks root dirty and restarts the quiet period.
func (d *Debouncer) Add(root string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.roots[root] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.flush)
}

// Pending returns the roots waiting for the quiet period to end.
func (d *Debouncer) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(d.roots))
	for r := range d.roots {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || len(d.roots) == 0 {
		return
	}

	batch := make([]string, 0, len(d.roots))
	for r := range d.roots {
		batch = append(batch, r)
	}
	slices.Sort(batch)
	d.roots = make(map[string]struct{})

	select {
	case d.output <- batch:
	default:
		// The consumer is behind; keep the roots for the next flush.
		for _, r := range batch {
			d.roots[r] = struct{}{}
		}
		d.timer = time.AfterFunc(d.interval, d.flush)
	}
}

// Close stops the timer and closes the output channel.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}

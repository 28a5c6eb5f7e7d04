// Package progress reports live scan progress over a channel.
//
// The total number of entries is unknown until a walk finishes, so the
// reported percentage is an estimate: it grows with the number of items
// seen, stays below 100 while scanning and jumps to 100 on completion. It is
// monotonically non-decreasing but not a measure of remaining work.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Phase identifies the stage of a scan.
type Phase string

// Scan phases.
const (
	PhaseStart    Phase = "start"
	PhaseScanning Phase = "scanning"
	PhaseComplete Phase = "complete"
)

// Event is one progress update.
type Event struct {
	Phase        Phase  `json:"phase"`
	Percent      int    `json:"progress_percent"`
	Message      string `json:"message"`
	CurrentPath  string `json:"current_path,omitempty"`
	FilesFound   int64  `json:"files_found"`
	FoldersFound int64  `json:"folders_found"`
}

const (
	// estimateOffset keeps early estimates low while few items are known.
	estimateOffset = 1000
	// estimateScale is the item count below which the estimate grows linearly.
	estimateScale = 5000
	// maxScanningPercent caps the estimate until the walk completes.
	maxScanningPercent = 99

	// DefaultBuffer is the default event channel capacity.
	DefaultBuffer = 64
	// DefaultInterval is the minimum time between scanning events.
	DefaultInterval = 10 * time.Millisecond
)

// Estimate returns the heuristic completion percentage after items entries
// have been processed: items / max(items+1000, 5000), capped at 99.
func Estimate(items int64) int {
	if items <= 0 {
		return 0
	}
	denom := max(items+estimateOffset, estimateScale)
	return min(int(items*100/denom), maxScanningPercent)
}

// Reporter publishes Events to a buffered channel. A slow consumer never
// blocks the scan: when the buffer is full the oldest pending scanning event
// is dropped. Start and completion events are never evicted. A nil
// *Reporter is valid and discards everything.
type Reporter struct {
	mu       sync.Mutex
	events   chan Event
	interval time.Duration
	lastSent time.Time
	percent  int
	closed   bool
}

// minBuffer holds one start and one completion event.
const minBuffer = 2

// New creates a reporter whose channel holds up to buffer events, at least
// two.
func New(buffer int) *Reporter {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	buffer = max(buffer, minBuffer)
	return &Reporter{
		events:   make(chan Event, buffer),
		interval: DefaultInterval,
	}
}

// SetInterval changes the throttle interval for scanning events.
func (r *Reporter) SetInterval(d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

// Events returns the channel the caller subscribes to. It is closed by Close.
func (r *Reporter) Events() <-chan Event {
	if r == nil {
		return nil
	}
	return r.events
}

// Start publishes the start event for root.
func (r *Reporter) Start(root string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.publish(Event{
		Phase:       PhaseStart,
		Percent:     r.percent,
		Message:     "Scanning " + root,
		CurrentPath: root,
	})
}

// Update publishes a scanning event unless one was sent within the throttle
// interval.
func (r *Reporter) Update(files, folders int64, currentPath string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastSent) < r.interval {
		return
	}
	r.lastSent = now

	r.percent = max(r.percent, Estimate(files+folders))
	r.publish(Event{
		Phase:        PhaseScanning,
		Percent:      r.percent,
		Message:      fmt.Sprintf("Found %d files in %d folders", files, folders),
		CurrentPath:  currentPath,
		FilesFound:   files,
		FoldersFound: folders,
	})
}

// Complete publishes the final event with Percent forced to 100.
func (r *Reporter) Complete(files, folders int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.percent = 100
	r.publish(Event{
		Phase:        PhaseComplete,
		Percent:      100,
		Message:      fmt.Sprintf("Scan complete: %d files, %d folders", files, folders),
		FilesFound:   files,
		FoldersFound: folders,
	})
}

// Close closes the event channel. Later calls are no-ops.
func (r *Reporter) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.events)
}

// publish must be called with r.mu held.
func (r *Reporter) publish(ev Event) {
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
		return
	default:
	}

	// Buffer full. Pull the pending events out, make room and put them back
	// in order. The consumer only ever removes events, so the refill cannot
	// block.
	pending := make([]Event, 0, cap(r.events)+1)
	for drained := false; !drained; {
		select {
		case p := <-r.events:
			pending = append(pending, p)
		default:
			drained = true
		}
	}
	pending = append(pending, ev)
	if len(pending) > cap(r.events) {
		pending = evict(pending)
	}
	for _, p := range pending {
		r.events <- p
	}
}

// evict removes one event from pending: the oldest scanning update, or the
// oldest lifecycle event when nothing else is queued.
func evict(pending []Event) []Event {
	for i, p := range pending {
		if p.Phase == PhaseScanning {
			return append(pending[:i], pending[i+1:]...)
		}
	}
	return pending[1:]
}

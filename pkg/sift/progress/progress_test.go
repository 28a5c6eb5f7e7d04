package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(r *Reporter) []Event {
	r.Close()
	var out []Event
	for ev := range r.Events() {
		out = append(out, ev)
	}
	return out
}

func TestEstimateIsMonotonicAndCapped(t *testing.T) {
	prev := -1
	for n := int64(0); n <= 2_000_000; n += 997 {
		got := Estimate(n)
		assert.GreaterOrEqual(t, got, prev, "estimate decreased at %d", n)
		assert.LessOrEqual(t, got, 99)
		prev = got
	}
	assert.Equal(t, 0, Estimate(0))
	assert.Equal(t, 0, Estimate(-10))
	// Linear region: 2500 / 5000.
	assert.Equal(t, 50, Estimate(2500))
	// Saturating region never reaches 100.
	assert.Equal(t, 99, Estimate(1_000_000_000))
}

func TestReporterPhases(t *testing.T) {
	r := New(16)
	r.SetInterval(0)

	r.Start("/data")
	r.Update(10, 2, "/data/a")
	r.Update(4000, 100, "/data/b")
	r.Complete(4000, 100)

	events := drain(r)
	require.Len(t, events, 4)
	assert.Equal(t, PhaseStart, events[0].Phase)
	assert.Equal(t, "/data", events[0].CurrentPath)
	assert.Equal(t, PhaseScanning, events[1].Phase)
	assert.Equal(t, int64(10), events[1].FilesFound)
	assert.Equal(t, PhaseComplete, events[3].Phase)
	assert.Equal(t, 100, events[3].Percent)

	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent)
	}
	assert.Less(t, events[2].Percent, 100)
}

func TestReporterSlowConsumerKeepsCompletion(t *testing.T) {
	r := New(2)
	r.SetInterval(0)

	r.Start("/x")
	for i := int64(1); i <= 500; i++ {
		r.Update(i*10, i, "/x")
	}
	r.Complete(5000, 500)

	events := drain(r)
	require.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 2)
	last := events[len(events)-1]
	assert.Equal(t, PhaseComplete, last.Phase)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, PhaseStart, events[0].Phase)
}

func TestReporterFullBufferKeepsStart(t *testing.T) {
	r := New(4)
	r.SetInterval(0)

	r.Start("/x")
	for i := int64(1); i <= 100; i++ {
		r.Update(i, 0, "/x")
	}

	pending := make([]Event, 0, 4)
	for len(r.Events()) > 0 {
		pending = append(pending, <-r.Events())
	}
	require.Len(t, pending, 4)
	assert.Equal(t, PhaseStart, pending[0].Phase)
	assert.Equal(t, int64(100), pending[3].FilesFound, "newest update is kept")
	for _, ev := range pending[1:] {
		assert.Equal(t, PhaseScanning, ev.Phase)
	}

	r.Start("/x")
	r.Complete(100, 0)
	for range 10 {
		r.Update(1, 0, "/x")
	}
	events := drain(r)
	require.Len(t, events, 4)
	assert.Equal(t, PhaseStart, events[0].Phase)
	assert.Equal(t, PhaseComplete, events[1].Phase)
	assert.Equal(t, PhaseScanning, events[3].Phase)
}

func TestNewEnforcesMinimumBuffer(t *testing.T) {
	r := New(1)
	r.Start("/x")
	r.Complete(0, 0)
	events := drain(r)
	require.Len(t, events, 2)
	assert.Equal(t, PhaseStart, events[0].Phase)
	assert.Equal(t, PhaseComplete, events[1].Phase)
}

func TestReporterThrottles(t *testing.T) {
	r := New(100)
	r.SetInterval(1 << 62)

	r.Update(1, 0, "a")
	r.Update(2, 0, "b")
	r.Update(3, 0, "c")

	events := drain(r)
	assert.Len(t, events, 1)
}

func TestNilReporter(t *testing.T) {
	var r *Reporter
	assert.NotPanics(t, func() {
		r.Start("/")
		r.Update(1, 1, "/")
		r.Complete(1, 1)
		r.Close()
	})
	assert.Nil(t, r.Events())
}

func TestCloseTwiceAndPublishAfterClose(t *testing.T) {
	r := New(1)
	r.Close()
	assert.NotPanics(t, func() {
		r.Close()
		r.Complete(0, 0)
	})
}

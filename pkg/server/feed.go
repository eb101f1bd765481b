package server

import (
	"sync"

	"github.com/sudorandom/visor/pkg/anomaly"
	"github.com/sudorandom/visor/pkg/capture"
)

const defaultFeedSize = 1000

// Feed is the shared, sequenced list of anomaly descriptions. Detection runs
// once per captured packet and every client reads from here with its own
// cursor, so anomalies are never counted twice.
type Feed struct {
	mu    sync.Mutex
	max   int
	items []string
	total uint64
}

func NewFeed(max int) *Feed {
	if max <= 0 {
		max = defaultFeedSize
	}
	return &Feed{max: max}
}

func (f *Feed) Add(items ...string) {
	if len(items) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
	f.total += uint64(len(items))
	if over := len(f.items) - f.max; over > 0 {
		f.items = append(f.items[:0], f.items[over:]...)
	}
}

// Since returns the anomalies added after cursor and the next cursor.
func (f *Feed) Since(cursor uint64) ([]string, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	oldest := f.total - uint64(len(f.items))
	if cursor < oldest {
		cursor = oldest
	}
	if cursor >= f.total {
		return nil, f.total
	}
	start := int(cursor - oldest)
	out := make([]string, len(f.items)-start)
	copy(out, f.items[start:])
	return out, f.total
}

// Hook returns a capture.Capture OnPacket hook that runs d over every packet
// and appends whatever it raises.
func (f *Feed) Hook(d *anomaly.Detector, m *Metrics) func(capture.Packet) {
	return func(p capture.Packet) {
		if m != nil {
			m.PacketsCaptured.Inc()
		}
		found := d.Process(p)
		if len(found) == 0 {
			return
		}
		if m != nil {
			m.AnomaliesRaised.Add(float64(len(found)))
		}
		f.Add(found...)
	}
}

package visor

import (
	"container/list"
	"fmt"
	"strconv"
	"time"
)

// ConnKey identifies a connection by its five-tuple. Missing ports are kept
// as empty strings so that port 0 and "no port" stay distinct.
type ConnKey struct {
	Src     string
	SrcPort string
	Dst     string
	DstPort string
	Proto   Proto
}

func KeyOf(ev Event) ConnKey {
	return ConnKey{
		Src:     ev.Src,
		SrcPort: portString(ev.SrcPort),
		Dst:     ev.Dst,
		DstPort: portString(ev.DstPort),
		Proto:   ev.Proto,
	}
}

func (k ConnKey) String() string {
	return fmt.Sprintf("%s:%s->%s:%s:%s", k.Src, k.SrcPort, k.Dst, k.DstPort, k.Proto)
}

func portString(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

type ConnectionRecord struct {
	Key      ConnKey
	Row      Row
	LastSeen time.Time

	elem *list.Element
}

// ConnectionTracker keeps one record per ConnKey and expires records that
// have not been refreshed within staleAfter. With maxRows > 0 it also drops
// the oldest-inserted record whenever an insert pushes it over the limit.
type ConnectionTracker struct {
	staleAfter time.Duration
	maxRows    int
	records    map[ConnKey]*ConnectionRecord
	order      *list.List // of ConnKey, insertion order
	out        TableRenderer
}

func NewConnectionTracker(staleAfter time.Duration, maxRows int, out TableRenderer) *ConnectionTracker {
	if out == nil {
		out = NopRenderer{}
	}
	return &ConnectionTracker{
		staleAfter: staleAfter,
		maxRows:    maxRows,
		records:    make(map[ConnKey]*ConnectionRecord),
		order:      list.New(),
		out:        out,
	}
}

// Observe records ev at now. It returns true when the key is new. Events
// without both addresses are dropped and reported as not new.
func (t *ConnectionTracker) Observe(ev Event, now time.Time) bool {
	if ev.Src == "" || ev.Dst == "" {
		return false
	}
	key := KeyOf(ev)
	row := Row{
		Src:            ev.Src,
		Dst:            ev.Dst,
		SrcCountryCode: ev.SrcCountryCode,
		DstCountryCode: ev.DstCountryCode,
		Proto:          ev.Proto,
		Type:           ev.Type,
		Color:          ColorFor(ev.Type),
	}

	if rec, ok := t.records[key]; ok {
		rec.Row = row
		rec.LastSeen = now
		t.out.UpsertRow(key, row)
		return false
	}

	rec := &ConnectionRecord{Key: key, Row: row, LastSeen: now}
	rec.elem = t.order.PushBack(key)
	t.records[key] = rec
	t.out.UpsertRow(key, row)

	for t.maxRows > 0 && len(t.records) > t.maxRows {
		oldest := t.order.Front()
		t.remove(oldest.Value.(ConnKey))
	}
	return true
}

// Sweep removes every record whose age exceeds the staleness window and
// returns the removed keys, oldest first.
func (t *ConnectionTracker) Sweep(now time.Time) []ConnKey {
	var removed []ConnKey
	for e := t.order.Front(); e != nil; {
		next := e.Next()
		key := e.Value.(ConnKey)
		if now.Sub(t.records[key].LastSeen) > t.staleAfter {
			t.remove(key)
			removed = append(removed, key)
		}
		e = next
	}
	return removed
}

func (t *ConnectionTracker) remove(key ConnKey) {
	rec, ok := t.records[key]
	if !ok {
		return
	}
	t.order.Remove(rec.elem)
	delete(t.records, key)
	t.out.RemoveRow(key)
}

func (t *ConnectionTracker) Get(key ConnKey) (ConnectionRecord, bool) {
	rec, ok := t.records[key]
	if !ok {
		return ConnectionRecord{}, false
	}
	return *rec, true
}

func (t *ConnectionTracker) Len() int { return len(t.records) }

// Records returns a copy of every record in insertion order.
func (t *ConnectionTracker) Records() []ConnectionRecord {
	out := make([]ConnectionRecord, 0, len(t.records))
	for e := t.order.Front(); e != nil; e = e.Next() {
		out = append(out, *t.records[e.Value.(ConnKey)])
	}
	return out
}

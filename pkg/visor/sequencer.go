package visor

import (
	"image/color"
	"sort"
	"time"

	geojson "github.com/paulmach/go.geojson"
)

// AnimState is the state of one pair lane.
type AnimState int

const (
	Idle AnimState = iota
	Animating
)

func (s AnimState) String() string {
	if s == Animating {
		return "animating"
	}
	return "idle"
}

// Animation is one line drawn from Src to Dst.
type Animation struct {
	Src      string
	Dst      string
	Feature  *geojson.Feature
	Color    color.RGBA
	Duration time.Duration
}

type lane struct {
	current   *Animation
	startedAt time.Time
	queue     []*Animation
}

// Sequencer plays at most one animation at a time per host pair, in the
// order they were requested, so a request and its response are drawn one
// after the other instead of on top of each other. A direction that is
// already queued or playing is not queued again.
type Sequencer struct {
	lanes map[string]*lane
	seen  map[string]struct{}
	out   MapRenderer
}

func NewSequencer(out MapRenderer) *Sequencer {
	if out == nil {
		out = NopRenderer{}
	}
	return &Sequencer{
		lanes: make(map[string]*lane),
		seen:  make(map[string]struct{}),
		out:   out,
	}
}

// PairKey is the order-independent key for two hosts.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func directionKey(src, dst string) string {
	return src + "->" + dst
}

// Enqueue asks for anim to be played. It returns false when the same
// direction is already queued or playing. An idle lane starts immediately.
func (s *Sequencer) Enqueue(anim Animation, now time.Time) bool {
	dk := directionKey(anim.Src, anim.Dst)
	if _, dup := s.seen[dk]; dup {
		return false
	}
	s.seen[dk] = struct{}{}

	key := PairKey(anim.Src, anim.Dst)
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{}
		s.lanes[key] = l
	}
	a := anim
	if l.current == nil {
		s.start(l, &a, now)
	} else {
		l.queue = append(l.queue, &a)
	}
	return true
}

func (s *Sequencer) start(l *lane, a *Animation, at time.Time) {
	l.current = a
	l.startedAt = at
	s.out.Draw(a.Feature, a.Color, a.Duration)
}

// Advance completes every animation whose duration has elapsed by now. The
// next queued animation of a lane starts at the instant the previous one
// ended, so the outcome does not depend on how often Advance is called.
// It returns the number of completed animations.
func (s *Sequencer) Advance(now time.Time) int {
	done := 0
	// Sorted so renderer calls come out in a stable order.
	keys := make([]string, 0, len(s.lanes))
	for k := range s.lanes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		l := s.lanes[key]
		for l.current != nil {
			end := l.startedAt.Add(l.current.Duration)
			if now.Before(end) {
				break
			}
			delete(s.seen, directionKey(l.current.Src, l.current.Dst))
			done++
			if len(l.queue) == 0 {
				l.current = nil
				break
			}
			next := l.queue[0]
			l.queue = l.queue[1:]
			s.start(l, next, end)
		}
		if l.current == nil {
			delete(s.lanes, key)
		}
	}
	return done
}

func (s *Sequencer) State(pairKey string) AnimState {
	if l, ok := s.lanes[pairKey]; ok && l.current != nil {
		return Animating
	}
	return Idle
}

// Pending is the number of animations waiting behind the current one.
func (s *Sequencer) Pending(pairKey string) int {
	if l, ok := s.lanes[pairKey]; ok {
		return len(l.queue)
	}
	return 0
}

// Active is the number of lanes currently animating.
func (s *Sequencer) Active() int { return len(s.lanes) }

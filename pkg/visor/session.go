package visor

import (
	"context"
	"log"
	"time"

	geojson "github.com/paulmach/go.geojson"
)

const (
	DefaultStaleAfter        = 30 * time.Second
	DefaultSweepInterval     = 5 * time.Second
	DefaultMaxRows           = 50
	DefaultMaxEdges          = 100
	DefaultAnimationDuration = time.Second
	DefaultFrameInterval     = 50 * time.Millisecond
)

type Options struct {
	// StaleAfter is how long a connection or host survives without a refresh.
	StaleAfter    time.Duration
	SweepInterval time.Duration
	// MaxRows caps the connection table. Zero or less means unbounded.
	MaxRows  int
	MaxEdges int
	// AnimationDuration is how long one connection line animates before the
	// next one for the same pair may start.
	AnimationDuration time.Duration
	// FrameInterval is how often Run advances animations.
	FrameInterval time.Duration
	Now           func() time.Time
}

func DefaultOptions() Options {
	return Options{
		StaleAfter:        DefaultStaleAfter,
		SweepInterval:     DefaultSweepInterval,
		MaxRows:           DefaultMaxRows,
		MaxEdges:          DefaultMaxEdges,
		AnimationDuration: DefaultAnimationDuration,
		FrameInterval:     DefaultFrameInterval,
		Now:               time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StaleAfter <= 0 {
		o.StaleAfter = d.StaleAfter
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.MaxEdges <= 0 {
		o.MaxEdges = d.MaxEdges
	}
	if o.AnimationDuration < 0 {
		o.AnimationDuration = d.AnimationDuration
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = d.FrameInterval
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Session is one live view: it owns the connection table, the host graph,
// the animation lanes and the filters, and forwards everything it learns to
// a Renderer. A Session is not safe for concurrent use; Run serialises all
// access on one goroutine.
type Session struct {
	opts Options
	out  Renderer

	Filters     *FilterSet
	Connections *ConnectionTracker
	Graph       *HostGraph
	Animations  *Sequencer

	located bool
}

func NewSession(opts Options, out Renderer) *Session {
	if out == nil {
		out = NopRenderer{}
	}
	opts = opts.withDefaults()
	return &Session{
		opts:        opts,
		out:         out,
		Filters:     NewFilterSet(),
		Connections: NewConnectionTracker(opts.StaleAfter, opts.MaxRows, out),
		Graph:       NewHostGraph(opts.StaleAfter, opts.MaxEdges, out),
		Animations:  NewSequencer(out),
	}
}

func (s *Session) Options() Options { return s.opts }

// HandleMessage processes one transport frame in array order.
func (s *Session) HandleMessage(msg Message, now time.Time) {
	for _, ev := range msg.Packets {
		s.Observe(ev, now)
	}
	for _, a := range msg.Anomalies {
		s.out.AddAnomaly(a)
	}
	if !s.located && msg.ServerLocation.Known() {
		s.located = true
		s.out.SetServerLocation(*msg.ServerLocation.Lat, *msg.ServerLocation.Lon)
	}
}

// Observe feeds a single event into the map, the table and the graph.
// Events without both addresses are dropped.
func (s *Session) Observe(ev Event, now time.Time) {
	if ev.Src == "" || ev.Dst == "" {
		return
	}
	s.draw(ev, now)
	s.Connections.Observe(ev, now)
	s.Graph.Observe(ev, now)
}

func (s *Session) draw(ev Event, now time.Time) {
	if !ev.HasCoords() || !s.Filters.Enabled(ev.TrafficType()) {
		return
	}
	feature := geojson.NewLineStringFeature([][]float64{
		{*ev.SrcLon, *ev.SrcLat},
		{*ev.DstLon, *ev.DstLat},
	})
	feature.SetProperty("type", ev.Type)
	s.Animations.Enqueue(Animation{
		Src:      ev.Src,
		Dst:      ev.Dst,
		Feature:  feature,
		Color:    ColorFor(ev.Type),
		Duration: s.opts.AnimationDuration,
	}, now)
}

// SetFilter toggles a traffic type. Unknown labels are ignored.
func (s *Session) SetFilter(t TrafficType, enabled bool) bool {
	return s.Filters.Set(t, enabled)
}

// Maintain runs the staleness sweeps over connections and hosts.
func (s *Session) Maintain(now time.Time) {
	s.Connections.Sweep(now)
	s.Graph.Sweep(now)
}

// Advance moves animations forward to now.
func (s *Session) Advance(now time.Time) {
	s.Animations.Advance(now)
}

// Run owns the session until ctx is done. A closed msgs channel stops
// message handling but keeps maintenance going.
func (s *Session) Run(ctx context.Context, msgs <-chan Message, toggles <-chan FilterToggle) error {
	sweep := time.NewTicker(s.opts.SweepInterval)
	defer sweep.Stop()
	frame := time.NewTicker(s.opts.FrameInterval)
	defer frame.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			s.HandleMessage(msg, s.opts.Now())
		case t, ok := <-toggles:
			if !ok {
				toggles = nil
				continue
			}
			if !s.SetFilter(t.Label, t.Enabled) {
				log.Printf("[FILTER] Ignoring unknown filter %q", t.Label)
			}
		case <-sweep.C:
			s.Maintain(s.opts.Now())
		case <-frame.C:
			s.Advance(s.opts.Now())
		}
	}
}

// Package anomaly flags suspicious traffic patterns in the captured packet
// stream. Every rule reports a given offender at most once per process.
package anomaly

import (
	"fmt"

	"github.com/sudorandom/visor/pkg/capture"
)

const (
	DefaultHighTrafficThreshold = 50
	DefaultSpikeThreshold       = 20
	DefaultPortScanThreshold    = 10
	DefaultDDoSThreshold        = 50
)

// DefaultAllowedProtocols are the protocols UnusualProtocolRule never reports,
// by name and by IP protocol number.
var DefaultAllowedProtocols = []string{"TCP", "UDP", "ICMP", "6", "17", "1"}

// Rule inspects one packet at a time and returns any anomaly descriptions.
// Rules are not safe for concurrent use; Detector serialises them.
type Rule interface {
	Name() string
	Process(p capture.Packet) []string
}

// HighTrafficRule reports a source once it has sent more than Threshold
// packets.
type HighTrafficRule struct {
	Threshold int
	count     map[string]int
	reported  map[string]bool
}

func NewHighTrafficRule(threshold int) *HighTrafficRule {
	return &HighTrafficRule{Threshold: threshold, count: map[string]int{}, reported: map[string]bool{}}
}

func (r *HighTrafficRule) Name() string { return "HighTrafficRule" }

func (r *HighTrafficRule) Process(p capture.Packet) []string {
	if p.Src == "" {
		return nil
	}
	r.count[p.Src]++
	if r.count[p.Src] > r.Threshold && !r.reported[p.Src] {
		r.reported[p.Src] = true
		return []string{fmt.Sprintf("High traffic from %s", p.Src)}
	}
	return nil
}

// DestinationSpikeRule reports a source whose number of unique destinations
// jumps by more than Threshold between two consecutive new destinations.
type DestinationSpikeRule struct {
	Threshold    int
	destinations map[string]map[string]struct{}
	prev         map[string]int
	reported     map[string]bool
}

func NewDestinationSpikeRule(threshold int) *DestinationSpikeRule {
	return &DestinationSpikeRule{
		Threshold:    threshold,
		destinations: map[string]map[string]struct{}{},
		prev:         map[string]int{},
		reported:     map[string]bool{},
	}
}

func (r *DestinationSpikeRule) Name() string { return "DestinationSpikeRule" }

func (r *DestinationSpikeRule) Process(p capture.Packet) []string {
	if p.Src == "" || p.Dst == "" {
		return nil
	}
	dests, ok := r.destinations[p.Src]
	if !ok {
		dests = map[string]struct{}{}
		r.destinations[p.Src] = dests
	}
	if _, seen := dests[p.Dst]; seen {
		return nil
	}
	dests[p.Dst] = struct{}{}

	current := len(dests)
	jump := current - r.prev[p.Src]
	r.prev[p.Src] = current
	if jump > r.Threshold && !r.reported[p.Src] {
		r.reported[p.Src] = true
		return []string{fmt.Sprintf("Spike in unique destinations from %s", p.Src)}
	}
	return nil
}

type hostPair struct{ src, dst string }

// PortScanRule reports a source→destination pair once more than Threshold
// distinct destination ports have been seen for it.
type PortScanRule struct {
	Threshold int
	ports     map[hostPair]map[int]struct{}
	reported  map[hostPair]bool
}

func NewPortScanRule(threshold int) *PortScanRule {
	return &PortScanRule{Threshold: threshold, ports: map[hostPair]map[int]struct{}{}, reported: map[hostPair]bool{}}
}

func (r *PortScanRule) Name() string { return "PortScanRule" }

func (r *PortScanRule) Process(p capture.Packet) []string {
	if p.Src == "" || p.Dst == "" || p.DstPort == nil {
		return nil
	}
	key := hostPair{p.Src, p.Dst}
	ports, ok := r.ports[key]
	if !ok {
		ports = map[int]struct{}{}
		r.ports[key] = ports
	}
	ports[*p.DstPort] = struct{}{}
	if len(ports) > r.Threshold && !r.reported[key] {
		r.reported[key] = true
		return []string{fmt.Sprintf("Port scan from %s to %s", p.Src, p.Dst)}
	}
	return nil
}

// UnusualProtocolRule reports the first packet of each protocol outside the
// allowed set.
type UnusualProtocolRule struct {
	allowed  map[string]bool
	reported map[string]bool
}

func NewUnusualProtocolRule(allowed []string) *UnusualProtocolRule {
	r := &UnusualProtocolRule{allowed: map[string]bool{}, reported: map[string]bool{}}
	for _, proto := range allowed {
		r.allowed[proto] = true
	}
	return r
}

func (r *UnusualProtocolRule) Name() string { return "UnusualProtocolRule" }

func (r *UnusualProtocolRule) Process(p capture.Packet) []string {
	if p.Proto == "" || r.allowed[p.Proto] || r.reported[p.Proto] {
		return nil
	}
	r.reported[p.Proto] = true
	return []string{fmt.Sprintf("Unusual protocol %s from %s to %s", p.Proto, p.Src, p.Dst)}
}

// DDoSTargetRule reports a destination once more than Threshold unique
// sources have reached it.
type DDoSTargetRule struct {
	Threshold int
	sources   map[string]map[string]struct{}
	reported  map[string]bool
}

func NewDDoSTargetRule(threshold int) *DDoSTargetRule {
	return &DDoSTargetRule{Threshold: threshold, sources: map[string]map[string]struct{}{}, reported: map[string]bool{}}
}

func (r *DDoSTargetRule) Name() string { return "DDosTargetRule" }

func (r *DDoSTargetRule) Process(p capture.Packet) []string {
	if p.Src == "" || p.Dst == "" {
		return nil
	}
	srcs, ok := r.sources[p.Dst]
	if !ok {
		srcs = map[string]struct{}{}
		r.sources[p.Dst] = srcs
	}
	if _, seen := srcs[p.Src]; seen {
		return nil
	}
	srcs[p.Src] = struct{}{}
	if len(srcs) > r.Threshold && !r.reported[p.Dst] {
		r.reported[p.Dst] = true
		return []string{fmt.Sprintf("Possible DDoS on %s from %d sources", p.Dst, len(srcs))}
	}
	return nil
}

// DefaultRules returns a fresh instance of every rule with default settings.
func DefaultRules() []Rule {
	return []Rule{
		NewHighTrafficRule(DefaultHighTrafficThreshold),
		NewDestinationSpikeRule(DefaultSpikeThreshold),
		NewPortScanRule(DefaultPortScanThreshold),
		NewUnusualProtocolRule(DefaultAllowedProtocols),
		NewDDoSTargetRule(DefaultDDoSThreshold),
	}
}

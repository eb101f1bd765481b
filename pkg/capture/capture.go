package capture

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

const DefaultMaxPackets = 10000

// Source is anything that hands out decoded packets; *gopacket.PacketSource
// satisfies it.
type Source interface {
	Packets() chan gopacket.Packet
}

// Opener opens a Source and returns a function that releases it.
type Opener func() (Source, func(), error)

// OpenLive captures from a network interface. An empty iface picks the first
// device libpcap reports.
func OpenLive(iface string, snaplen int32, promisc bool, bpf string) Opener {
	return func() (Source, func(), error) {
		if iface == "" {
			devs, err := pcap.FindAllDevs()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to list devices: %w", err)
			}
			if len(devs) == 0 {
				return nil, nil, fmt.Errorf("no capture devices found")
			}
			iface = devs[0].Name
		}
		handle, err := pcap.OpenLive(iface, snaplen, promisc, pcap.BlockForever)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening device %s: %w", iface, err)
		}
		if bpf != "" {
			if err := handle.SetBPFFilter(bpf); err != nil {
				handle.Close()
				return nil, nil, fmt.Errorf("invalid BPF filter %q: %w", bpf, err)
			}
		}
		log.Printf("[CAPTURE] Capturing on %s", iface)
		return gopacket.NewPacketSource(handle, handle.LinkType()), handle.Close, nil
	}
}

// OpenFile replays packets from a pcap file.
func OpenFile(path string) Opener {
	return func() (Source, func(), error) {
		handle, err := pcap.OpenOffline(path)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening %s: %w", path, err)
		}
		log.Printf("[CAPTURE] Replaying %s", path)
		return gopacket.NewPacketSource(handle, handle.LinkType()), handle.Close, nil
	}
}

// Capture buffers the last MaxPackets parsed packets. Every packet gets a
// sequence number so readers can ask for "everything after n" even when
// older packets have already been dropped.
type Capture struct {
	// OnPacket, when set, is called for every buffered packet, in order, from
	// the capture goroutine.
	OnPacket func(Packet)

	open Opener
	max  int

	mu    sync.Mutex
	buf   []Packet
	head  int    // index of the oldest packet once buf is full
	total uint64 // packets ever appended

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(maxPackets int, open Opener) *Capture {
	if maxPackets <= 0 {
		maxPackets = DefaultMaxPackets
	}
	return &Capture{open: open, max: maxPackets}
}

// Start begins reading in the background. It is a no-op while already running.
func (c *Capture) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return nil
	}
	if c.open == nil {
		return fmt.Errorf("capture has no packet source")
	}
	src, release, err := c.open()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	go func() {
		defer close(done)
		defer release()
		c.run(ctx, src)
	}()
	return nil
}

func (c *Capture) run(ctx context.Context, src Source) {
	packets := src.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-packets:
			if !ok {
				log.Printf("[CAPTURE] Source exhausted after %d packets", c.Total())
				return
			}
			info, err := Parse(p)
			if err != nil {
				continue
			}
			c.Append(info)
		}
	}
}

// Stop ends the capture goroutine and waits for it. The capture can be
// started again afterwards.
func (c *Capture) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel, c.done = nil, nil
}

// Running reports whether the capture goroutine is active.
func (c *Capture) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Append adds a packet, dropping the oldest one when the buffer is full.
func (c *Capture) Append(p Packet) {
	c.mu.Lock()
	if len(c.buf) < c.max {
		c.buf = append(c.buf, p)
	} else {
		c.buf[c.head] = p
		c.head = (c.head + 1) % c.max
	}
	c.total++
	c.mu.Unlock()

	if c.OnPacket != nil {
		c.OnPacket(p)
	}
}

// Connections returns every buffered packet, oldest first.
func (c *Capture) Connections() []Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tail(len(c.buf))
}

// Since returns the packets appended after cursor and the cursor to pass next
// time. Packets that have already been dropped are skipped.
func (c *Capture) Since(cursor uint64) ([]Packet, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldest := c.total - uint64(len(c.buf))
	if cursor < oldest {
		cursor = oldest
	}
	if cursor >= c.total {
		return nil, c.total
	}
	return c.tail(int(c.total - cursor)), c.total
}

// tail returns the newest n packets in order. Callers hold mu.
func (c *Capture) tail(n int) []Packet {
	out := make([]Packet, 0, n)
	size := len(c.buf)
	for i := size - n; i < size; i++ {
		out = append(out, c.buf[(c.head+i)%size])
	}
	return out
}

// Size is the number of buffered packets.
func (c *Capture) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Total is the number of packets ever appended.
func (c *Capture) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

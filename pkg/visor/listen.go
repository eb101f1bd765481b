package visor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionLost is passed to OnDisconnect when an established stream
// drops. Dial failures are retried without it.
var ErrConnectionLost = errors.New("stream connection lost")

// StreamClient reads Messages from a server's /ws endpoint and reconnects
// with exponential backoff until its context is cancelled.
type StreamClient struct {
	URL          string
	Dialer       *websocket.Dialer
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	OnDisconnect func(error)
}

func NewStreamClient(url string) *StreamClient {
	return &StreamClient{
		URL:        url,
		Dialer:     websocket.DefaultDialer,
		MinBackoff: time.Second,
		MaxBackoff: 60 * time.Second,
	}
}

// Listen delivers decoded frames on out. It only returns once ctx is done.
func (c *StreamClient) Listen(ctx context.Context, out chan<- Message) error {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 60 * time.Second
	}
	backoff := c.MinBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Printf("[STREAM] Connecting to %s", c.URL)
		conn, _, err := dialer.DialContext(ctx, c.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[STREAM] Dial error: %v. Retrying in %v...", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if backoff > c.MaxBackoff {
				backoff = c.MaxBackoff
			}
			continue
		}
		backoff = c.MinBackoff

		err = c.read(ctx, conn, out)
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, websocket.ErrCloseSent) {
			log.Printf("[STREAM] Error closing connection: %v", cerr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[STREAM] Read error: %v. Reconnecting...", err)
		if c.OnDisconnect != nil {
			c.OnDisconnect(fmt.Errorf("%w: %v", ErrConnectionLost, err))
		}
		if !sleep(ctx, c.MinBackoff) {
			return ctx.Err()
		}
	}
}

func (c *StreamClient) read(ctx context.Context, conn *websocket.Conn, out chan<- Message) error {
	// Unblock ReadMessage when ctx goes away.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[STREAM] Skipping undecodable frame: %v", err)
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

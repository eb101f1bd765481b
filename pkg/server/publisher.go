package server

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/sudorandom/visor/pkg/visor"
)

// Publisher receives every non-empty batch the server produces.
type Publisher interface {
	Publish(msg visor.Message) error
	Close()
}

// NATSPublisher publishes batches as JSON on a NATS subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("visor-server"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	log.Printf("[NATS] Connected to %s, publishing on %s", url, subject)
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(msg visor.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			log.Printf("[NATS] Error draining connection: %v", err)
		}
		log.Println("[NATS] Connection drained and closed.")
	}
}

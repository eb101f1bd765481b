// Package server streams enriched packet batches and anomalies to WebSocket
// clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sudorandom/visor/pkg/capture"
	"github.com/sudorandom/visor/pkg/visor"
)

const (
	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// PacketStore is the read side of capture.Capture.
type PacketStore interface {
	Connections() []capture.Packet
	Since(cursor uint64) ([]capture.Packet, uint64)
}

type Options struct {
	Addr         string
	IndexFile    string
	StaticDir    string
	PollInterval time.Duration
}

type Server struct {
	opts      Options
	packets   PacketStore
	feed      *Feed
	enricher  *Enricher
	metrics   *Metrics
	publisher Publisher
	upgrader  websocket.Upgrader
}

// New wires a server. publisher may be nil.
func New(opts Options, packets PacketStore, feed *Feed, enricher *Enricher, metrics *Metrics, publisher Publisher) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if feed == nil {
		feed = NewFeed(0)
	}
	if enricher == nil {
		enricher = NewEnricher(nil)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		opts:      opts,
		packets:   packets,
		feed:      feed,
		enricher:  enricher,
		metrics:   metrics,
		publisher: publisher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/packets", s.handlePackets).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	if s.opts.StaticDir != "" {
		r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(s.opts.StaticDir))))
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.publisher != nil {
		go s.publishLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[HTTP] Listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("[HTTP] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.opts.IndexFile == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.opts.IndexFile)
}

func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	packets := s.packets.Connections()
	if packets == nil {
		packets = []capture.Packet{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(packets); err != nil {
		log.Printf("[HTTP] Error writing /packets: %v", err)
	}
}

// batcher tracks one reader's position in the packet buffer and the
// anomaly feed.
type batcher struct {
	s           *Server
	packets     uint64
	anomalies   uint64
	sentInitial bool
}

// next builds the next message. ok is false when there is nothing to send;
// the first call always produces a message carrying the server location.
func (b *batcher) next(ctx context.Context) (msg visor.Message, ok bool) {
	var pkts []capture.Packet
	pkts, b.packets = b.s.packets.Since(b.packets)
	msg.Anomalies, b.anomalies = b.s.feed.Since(b.anomalies)

	msg.Packets = make([]visor.Event, 0, len(pkts))
	for _, p := range pkts {
		msg.Packets = append(msg.Packets, b.s.enricher.Enrich(ctx, p))
	}
	if msg.Anomalies == nil {
		msg.Anomalies = []string{}
	}
	if !b.sentInitial {
		loc := b.s.enricher.ServerLocation()
		msg.ServerLocation = &loc
		b.sentInitial = true
		return msg, true
	}
	return msg, len(msg.Packets) > 0 || len(msg.Anomalies) > 0
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	s.metrics.Clients.Inc()
	defer s.metrics.Clients.Dec()
	log.Printf("[WS] Client connected: %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read side only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	b := &batcher{s: s}
	for {
		select {
		case <-ctx.Done():
			log.Printf("[WS] Client disconnected: %s", r.RemoteAddr)
			return
		case <-ticker.C:
		}
		msg, ok := b.next(ctx)
		if !ok {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("[WS] Write to %s failed: %v", r.RemoteAddr, err)
			return
		}
		s.metrics.PacketsStreamed.Add(float64(len(msg.Packets)))
	}
}

// publishLoop mirrors the stream to the publisher with its own cursor.
func (s *Server) publishLoop(ctx context.Context) {
	defer s.publisher.Close()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	b := &batcher{s: s, sentInitial: true}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		msg, ok := b.next(ctx)
		if !ok {
			continue
		}
		if err := s.publisher.Publish(msg); err != nil {
			log.Printf("[NATS] Publish failed: %v", err)
			s.metrics.Published.WithLabelValues("error").Inc()
			continue
		}
		s.metrics.Published.WithLabelValues("ok").Inc()
	}
}

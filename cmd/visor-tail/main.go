package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/sudorandom/visor/pkg/config"
	"github.com/sudorandom/visor/pkg/visor"
)

var cli struct {
	Config  string   `help:"Path to the YAML config file." default:"config.yaml" type:"path"`
	Server  string   `help:"WebSocket URL of visor-server. Overrides viewer.server."`
	Hide    []string `help:"Traffic types to leave off the map (private-private, private-public, public-private, public-public)."`
	Verbose bool     `help:"Also log row refreshes and graph edges." short:"v"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("visor-tail"),
		kong.Description("Track a visor-server stream without a window and log what would be drawn."),
	)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	url := cfg.Viewer.Server
	if cli.Server != "" {
		url = cli.Server
	}

	session := visor.NewSession(cfg.Tracker.Options(), visor.LogRenderer{Verbose: cli.Verbose})
	for _, label := range cli.Hide {
		if !session.SetFilter(visor.TrafficType(label), false) {
			log.Fatalf("Unknown traffic type %q", label)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgs := make(chan visor.Message, 16)
	client := visor.NewStreamClient(url)
	client.OnDisconnect = func(err error) {
		log.Printf("[STREAM] Disconnected: %v", err)
	}
	go func() {
		if err := client.Listen(ctx, msgs); err != nil && ctx.Err() == nil {
			log.Printf("[STREAM] Listener stopped: %v", err)
		}
	}()
	if err := session.Run(ctx, msgs, nil); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Session error: %v", err)
	}
}

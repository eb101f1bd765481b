package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/sudorandom/visor/pkg/anomaly"
	"github.com/sudorandom/visor/pkg/capture"
	"github.com/sudorandom/visor/pkg/config"
	"github.com/sudorandom/visor/pkg/server"
	"github.com/sudorandom/visor/pkg/visor"
)

var cli struct {
	Config    string `help:"Path to the YAML config file." default:"config.yaml" type:"path"`
	Listen    string `help:"Address to listen on. Overrides server.listen."`
	Interface string `help:"Network interface to capture on. Overrides capture.interface." short:"i"`
	File      string `help:"Replay a pcap file instead of capturing live." type:"path"`
	BPF       string `help:"BPF filter expression." name:"bpf"`
	NATS      string `help:"NATS server URL to publish batches to." name:"nats"`
	Anomaly   string `help:"Anomaly rules file. Defaults to $ANOMALY_CONFIG." type:"path"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("visor-server"),
		kong.Description("Capture packets, geolocate and score them, and stream them to viewers."),
	)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	anomalyCfg, err := anomaly.LoadConfig(cfg.AnomalyConfig)
	if err != nil {
		log.Fatalf("Failed to load anomaly rules: %v", err)
	}
	detector := anomaly.NewDetectorFromConfig(anomalyCfg)
	log.Printf("[ANOMALY] Rules enabled: %v", detector.Rules())

	metrics := server.NewMetrics()
	feed := server.NewFeed(0)

	locator, closeGeo, err := buildLocator(ctx, cfg.Geo, metrics)
	if err != nil {
		log.Fatalf("Failed to set up geolocation: %v", err)
	}
	defer closeGeo()
	enricher := server.NewEnricher(locator)
	if cfg.Geo.ServerLat != nil && cfg.Geo.ServerLon != nil {
		enricher.SetServerLocation(visor.ServerLocation{Lat: cfg.Geo.ServerLat, Lon: cfg.Geo.ServerLon})
	} else {
		client := &http.Client{Timeout: 10 * time.Second}
		loc, err := server.ResolveServerLocation(ctx, client, cfg.Geo.PublicIPURL, locator)
		if err != nil {
			log.Printf("[GEO] Could not locate this server: %v", err)
		} else {
			enricher.SetServerLocation(loc)
		}
	}

	opener := capture.OpenLive(cfg.Capture.Interface, cfg.Capture.Snaplen, cfg.Capture.Promiscuous, cfg.Capture.BPF)
	if cfg.Capture.File != "" {
		opener = capture.OpenFile(cfg.Capture.File)
	}
	packets := capture.New(cfg.Capture.MaxPackets, opener)
	packets.OnPacket = feed.Hook(detector, metrics)
	if err := packets.Start(ctx); err != nil {
		log.Fatalf("Failed to start capture: %v", err)
	}
	defer packets.Stop()

	var publisher server.Publisher
	if cfg.NATS.URL != "" {
		p, err := server.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.Fatalf("Failed to set up NATS: %v", err)
		}
		publisher = p
	}

	srv := server.New(server.Options{
		Addr:         cfg.Server.Listen,
		IndexFile:    cfg.Server.IndexFile,
		StaticDir:    cfg.Server.StaticDir,
		PollInterval: cfg.Server.PollInterval,
	}, packets, feed, enricher, metrics, publisher)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Shut down cleanly.")
}

// applyFlags lets non-empty flags override the file.
func applyFlags(cfg *config.Config) {
	if cli.Listen != "" {
		cfg.Server.Listen = cli.Listen
	}
	if cli.Interface != "" {
		cfg.Capture.Interface = cli.Interface
	}
	if cli.File != "" {
		cfg.Capture.File = cli.File
	}
	if cli.BPF != "" {
		cfg.Capture.BPF = cli.BPF
	}
	if cli.NATS != "" {
		cfg.NATS.URL = cli.NATS
	}
	if cli.Anomaly != "" {
		cfg.AnomalyConfig = cli.Anomaly
	}
}

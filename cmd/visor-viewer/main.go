package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/sudorandom/visor/pkg/config"
	"github.com/sudorandom/visor/pkg/viewer"
	"github.com/sudorandom/visor/pkg/visor"
)

var cli struct {
	Config       string `help:"Path to the YAML config file." default:"config.yaml" type:"path"`
	Server       string `help:"WebSocket URL of visor-server. Overrides viewer.server."`
	Width        int    `help:"Internal rendering width. Overrides viewer.width."`
	Height       int    `help:"Internal rendering height. Overrides viewer.height."`
	World        string `help:"World GeoJSON for the map background." type:"path"`
	CaptureDir   string `help:"Write a PNG of the screen to this directory every capture interval." type:"path"`
	WindowWidth  int    `help:"Initial window width (non-headless only)." default:"1280"`
	WindowHeight int    `help:"Initial window height (non-headless only)." default:"720"`
	TPS          int    `help:"Ticks per second." default:"30" name:"tps"`
	Headless     bool   `help:"Run without a local window (Xvfb rendering active)."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("visor-viewer"),
		kong.Description("Render a visor-server stream on a live world map."),
	)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	vc := cfg.Viewer
	if cli.Server != "" {
		vc.Server = cli.Server
	}
	if cli.Width > 0 {
		vc.Width = cli.Width
	}
	if cli.Height > 0 {
		vc.Height = cli.Height
	}
	if cli.World != "" {
		vc.WorldGeoJSON = cli.World
	}
	if cli.CaptureDir != "" {
		vc.CaptureDir = cli.CaptureDir
	}

	scene := viewer.NewScene(viewer.Projection{Width: vc.Width, Height: vc.Height, Scale: viewer.DefaultScale(vc.Width)})
	if vc.FadeDuration > 0 {
		scene.FadeDuration = vc.FadeDuration
	}
	world, err := viewer.LoadWorld(vc.WorldGeoJSON)
	if err != nil {
		log.Printf("[MAP] No world map, drawing a plain background: %v", err)
	}

	toggles := make(chan visor.FilterToggle, 8)
	game, err := viewer.NewGame(scene, world, toggles)
	if err != nil {
		log.Fatalf("Failed to initialize viewer: %v", err)
	}
	game.CaptureDir = vc.CaptureDir
	game.CaptureInterval = vc.CaptureInterval

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgs := make(chan visor.Message, 16)
	client := visor.NewStreamClient(vc.Server)
	go func() {
		if err := client.Listen(ctx, msgs); err != nil && ctx.Err() == nil {
			log.Printf("[STREAM] Listener stopped: %v", err)
		}
	}()
	session := visor.NewSession(cfg.Tracker.Options(), scene)
	go func() {
		_ = session.Run(ctx, msgs, toggles)
	}()
	game.Quit = ctx.Done()

	ebiten.SetTPS(cli.TPS)
	if !cli.Headless {
		ebiten.SetWindowSize(cli.WindowWidth, cli.WindowHeight)
		ebiten.SetWindowTitle("Visor: Live Connections")
	} else {
		log.Println("Running in HEADLESS mode (Rendering active).")
	}
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}

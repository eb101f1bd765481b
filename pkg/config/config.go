// Package config loads the YAML configuration shared by the visor commands.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sudorandom/visor/pkg/geo"
	"github.com/sudorandom/visor/pkg/sources"
	"github.com/sudorandom/visor/pkg/visor"
)

const DefaultFile = "config.yaml"

// ServerConfig is the HTTP/WebSocket side of visor-server.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	IndexFile    string        `yaml:"index_file"`
	StaticDir    string        `yaml:"static_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// CaptureConfig selects the packet source. File, when set, replays a pcap
// instead of capturing live.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	File        string `yaml:"file"`
	BPF         string `yaml:"bpf"`
	Snaplen     int32  `yaml:"snaplen"`
	Promiscuous bool   `yaml:"promiscuous"`
	MaxPackets  int    `yaml:"max_packets"`
}

type GeoConfig struct {
	// MaxMindDB is a local .mmdb path. When empty and MaxMindURL is set, the
	// database is downloaded into CacheDir.
	MaxMindDB  string `yaml:"maxmind_db"`
	MaxMindURL string `yaml:"maxmind_url"`
	// Geofeeds are RFC 8805 files or URLs loaded into the prefix trie.
	Geofeeds    []string `yaml:"geofeeds,omitempty"`
	TrieDir     string   `yaml:"trie_dir"`
	CacheDir    string   `yaml:"cache_dir"`
	CacheSize   int      `yaml:"cache_size"`
	IPAPI       bool     `yaml:"ip_api"`
	IPAPIURL    string   `yaml:"ip_api_url"`
	PublicIPURL string   `yaml:"public_ip_url"`
	// ServerLat and ServerLon pin the server location instead of looking it
	// up from the public IP.
	ServerLat *float64 `yaml:"server_lat,omitempty"`
	ServerLon *float64 `yaml:"server_lon,omitempty"`
}

// NATSConfig enables publishing every streamed batch. An empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type TrackerConfig struct {
	StaleAfter        time.Duration `yaml:"stale_after"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	MaxRows           int           `yaml:"max_rows"`
	MaxEdges          int           `yaml:"max_edges"`
	AnimationDuration time.Duration `yaml:"animation_duration"`
	FrameInterval     time.Duration `yaml:"frame_interval"`
}

type ViewerConfig struct {
	Server          string        `yaml:"server"`
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	WorldGeoJSON    string        `yaml:"world_geojson"`
	FadeDuration    time.Duration `yaml:"fade_duration"`
	CaptureDir      string        `yaml:"capture_dir"`
	CaptureInterval time.Duration `yaml:"capture_interval"`
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Geo     GeoConfig     `yaml:"geo"`
	NATS    NATSConfig    `yaml:"nats"`
	Tracker TrackerConfig `yaml:"tracker"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	// AnomalyConfig is the rules file. Empty defers to $ANOMALY_CONFIG.
	AnomalyConfig string `yaml:"anomaly_config"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":8000",
			IndexFile:    "frontend/index.html",
			StaticDir:    "frontend/static",
			PollInterval: time.Second,
		},
		Capture: CaptureConfig{
			Snaplen:     1600,
			Promiscuous: true,
			MaxPackets:  10000,
		},
		Geo: GeoConfig{
			MaxMindURL:  sources.GeoLiteCityURL,
			CacheDir:    "data/cache",
			CacheSize:   geo.DefaultCacheSize,
			IPAPI:       true,
			IPAPIURL:    sources.IPAPIURL,
			PublicIPURL: sources.IPifyURL,
		},
		NATS: NATSConfig{Subject: "visor.packets"},
		Tracker: TrackerConfig{
			StaleAfter:        visor.DefaultStaleAfter,
			SweepInterval:     visor.DefaultSweepInterval,
			MaxRows:           visor.DefaultMaxRows,
			MaxEdges:          visor.DefaultMaxEdges,
			AnimationDuration: visor.DefaultAnimationDuration,
			FrameInterval:     visor.DefaultFrameInterval,
		},
		Viewer: ViewerConfig{
			Server:       "ws://localhost:8000/ws",
			Width:        1920,
			Height:       1080,
			WorldGeoJSON: "data/world.geo.json",
			FadeDuration: 6 * time.Second,
		},
	}
}

// Load reads path over the defaults; keys missing from the file keep their
// default value. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.PollInterval <= 0 {
		return fmt.Errorf("server.poll_interval must be positive")
	}
	if c.Capture.MaxPackets < 0 {
		return fmt.Errorf("capture.max_packets must not be negative")
	}
	if (c.Geo.ServerLat == nil) != (c.Geo.ServerLon == nil) {
		return fmt.Errorf("geo.server_lat and geo.server_lon must be set together")
	}
	if c.Tracker.StaleAfter < 0 || c.Tracker.SweepInterval < 0 {
		return fmt.Errorf("tracker durations must not be negative")
	}
	return nil
}

// Options converts the tracker section; zero values fall back to the tracker
// defaults.
func (t TrackerConfig) Options() visor.Options {
	opts := visor.DefaultOptions()
	if t.StaleAfter > 0 {
		opts.StaleAfter = t.StaleAfter
	}
	if t.SweepInterval > 0 {
		opts.SweepInterval = t.SweepInterval
	}
	opts.MaxRows = t.MaxRows
	if t.MaxEdges > 0 {
		opts.MaxEdges = t.MaxEdges
	}
	if t.AnimationDuration > 0 {
		opts.AnimationDuration = t.AnimationDuration
	}
	if t.FrameInterval > 0 {
		opts.FrameInterval = t.FrameInterval
	}
	return opts
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

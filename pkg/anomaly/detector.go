package anomaly

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sudorandom/visor/pkg/capture"
)

const (
	ConfigEnv         = "ANOMALY_CONFIG"
	DefaultConfigFile = "anomaly_config.json"
)

// Detector runs every rule over each packet. It is safe for concurrent use.
type Detector struct {
	mu    sync.Mutex
	rules []Rule
}

// NewDetector uses DefaultRules when rules is empty.
func NewDetector(rules ...Rule) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Detector{rules: rules}
}

func (d *Detector) AddRule(r Rule) {
	d.mu.Lock()
	d.rules = append(d.rules, r)
	d.mu.Unlock()
}

// Process returns the anomalies raised by p, in rule order.
func (d *Detector) Process(p capture.Packet) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, r := range d.rules {
		out = append(out, r.Process(p)...)
	}
	return out
}

// Rules lists the active rule names, in order.
func (d *Detector) Rules() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.rules))
	for i, r := range d.rules {
		names[i] = r.Name()
	}
	return names
}

// Config is the rules file. Rules is kept as a node so that rule order in the
// file is the order rules run in. JSON files parse as YAML.
//
//	rules:
//	  HighTrafficRule: {threshold: 100}
//	  PortScanRule: false
//	  UnusualProtocolRule: {allowed: [TCP, UDP, 6, 17]}
type Config struct {
	Rules yaml.Node `yaml:"rules"`
}

type ruleSettings struct {
	Enabled        *bool    `yaml:"enabled"`
	Threshold      *int     `yaml:"threshold"`
	SpikeThreshold *int     `yaml:"spike_threshold"`
	Allowed        []string `yaml:"allowed"`
}

// LoadConfig reads the rules file at path. An empty path falls back to
// $ANOMALY_CONFIG and then anomaly_config.json. A missing file is not an
// error and yields an empty config.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read anomaly config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse anomaly config %s: %w", path, err)
	}
	return &cfg, nil
}

// NewDetectorFromConfig builds the configured rules. A rule set to false or
// with enabled: false is skipped and unknown names are ignored. If nothing is
// left the default rules are used.
func NewDetectorFromConfig(cfg *Config) *Detector {
	if cfg == nil || cfg.Rules.Kind != yaml.MappingNode {
		return NewDetector()
	}
	var rules []Rule
	content := cfg.Rules.Content
	for i := 0; i+1 < len(content); i += 2 {
		name, value := content[i].Value, content[i+1]

		var s ruleSettings
		switch value.Kind {
		case yaml.ScalarNode:
			var on bool
			if value.Tag == "!!bool" && value.Decode(&on) == nil && !on {
				continue
			}
		case yaml.MappingNode:
			if err := value.Decode(&s); err != nil {
				log.Printf("[ANOMALY] Ignoring %s: %v", name, err)
				continue
			}
			if s.Enabled != nil && !*s.Enabled {
				continue
			}
		}

		rule := buildRule(name, s)
		if rule == nil {
			log.Printf("[ANOMALY] Unknown rule %q", name)
			continue
		}
		rules = append(rules, rule)
	}
	return NewDetector(rules...)
}

func buildRule(name string, s ruleSettings) Rule {
	or := func(v *int, def int) int {
		if v != nil {
			return *v
		}
		return def
	}
	switch name {
	case "HighTrafficRule":
		return NewHighTrafficRule(or(s.Threshold, DefaultHighTrafficThreshold))
	case "DestinationSpikeRule":
		return NewDestinationSpikeRule(or(s.SpikeThreshold, DefaultSpikeThreshold))
	case "PortScanRule":
		return NewPortScanRule(or(s.Threshold, DefaultPortScanThreshold))
	case "UnusualProtocolRule":
		if s.Allowed != nil {
			return NewUnusualProtocolRule(s.Allowed)
		}
		return NewUnusualProtocolRule(DefaultAllowedProtocols)
	case "DDosTargetRule":
		return NewDDoSTargetRule(or(s.Threshold, DefaultDDoSThreshold))
	}
	return nil
}

// Package config loads the daemon's YAML configuration file and exposes
// it through a hot-reloadable snapshot: a fsnotify watch on the file
// marks the running config dirty and swaps it in without restarting the
// process.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"go.yaml.in/yaml/v3"
)

// LinkRule overrides PA's defaults for one named interface.
type LinkRule struct {
	Name         string `yaml:"name"`
	StaticPrefix string `yaml:"staticPrefix,omitempty"`
	// Address, if set, forces the allocator to carve out the sub-prefix
	// containing this host address for the link instead of picking one
	// at random.
	Address        string `yaml:"address,omitempty"`
	V6PlenOverride int    `yaml:"v6PlenOverride,omitempty"`
	V4PlenOverride int    `yaml:"v4PlenOverride,omitempty"`
	Disabled       bool   `yaml:"disabled,omitempty"`
}

// UplinkSpec configures how the daemon acquires its upstream delegated
// prefix, mirroring ifacemgr.AcquisitionSpec in a YAML-friendly shape.
type UplinkSpec struct {
	DHCPv6PDInterface  string `yaml:"dhcpv6pdInterface,omitempty"`
	RequestedPrefixLen int    `yaml:"requestedPrefixLength,omitempty"`
	RAInterface        string `yaml:"raInterface,omitempty"`
	RAEnabled          bool   `yaml:"raEnabled,omitempty"`
}

// Config is the top-level daemon configuration.
type Config struct {
	// NodeName is the prefix allocator's owner label for the prefixes
	// it records as its own. It does not affect the node identifier.
	NodeName string `yaml:"nodeName"`

	// Port is the DNCP multicast UDP port (default 8808).
	Port int `yaml:"port,omitempty"`

	// Interfaces lists the link-local interfaces the engine floods on.
	Interfaces []string `yaml:"interfaces"`

	// LinkRules overrides PA behavior per named interface.
	LinkRules []LinkRule `yaml:"linkRules,omitempty"`

	// EnableULA turns on spontaneous ULA /48 generation when no better
	// uplink delegated prefix is observed.
	EnableULA bool `yaml:"enableULA,omitempty"`

	// EnableV4 turns on the fixed default IPv4-mapped prefix fallback.
	EnableV4 bool `yaml:"enableV4,omitempty"`

	// StoragePath is where ULA/lease state is persisted.
	StoragePath string `yaml:"storagePath,omitempty"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint, empty disables it.
	MetricsAddr string `yaml:"metricsAddr,omitempty"`

	// Uplink configures acquisition of the upstream delegated prefix.
	// Zero value disables uplink acquisition (ULA/static-only operation).
	Uplink UplinkSpec `yaml:"uplink,omitempty"`
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 8808
	}
}

func (c *Config) validate() error {
	if c.NodeName == "" {
		return fmt.Errorf("config: nodeName is required")
	}
	if len(c.Interfaces) == 0 {
		return fmt.Errorf("config: at least one interface is required")
	}
	return nil
}

// Load reads and validates path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Watcher holds the current config snapshot and swaps it in whenever the
// backing file changes on disk, notifying subscribers via OnChange.
type Watcher struct {
	mu      sync.RWMutex
	path    string
	current *Config
	log     logr.Logger

	watcher  *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher loads path once and starts watching it for changes.
func NewWatcher(path string, log logr.Logger, onChange func(*Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{
		path:     path,
		current:  cfg,
		log:      log,
		watcher:  fw,
		onChange: onChange,
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error(err, "config: watch error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Error(err, "config: reload failed, keeping previous config")
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.log.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Current returns the latest loaded snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the filesystem watch.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/satpctl/internal/binding"
)

const DefaultBanner = "Test add-on v3.14"

// Config is the satpctl runtime configuration.
type Config struct {
	Banner   string
	LogLevel string
	Bindings []BindingConfig
	Capture  CaptureConfig
}

// BindingConfig is one extra binding rule resolved against a registry.
type BindingConfig struct {
	Transport string `toml:"transport"`
	Layer     string `toml:"layer"`
	SPort     uint16 `toml:"sport"`
	DPort     uint16 `toml:"dport"`
}

type CaptureConfig struct {
	SnapLen uint32 `toml:"snaplen"`
}

type fileConfig struct {
	Banner   string          `toml:"banner"`
	LogLevel string          `toml:"log_level"`
	Bindings []BindingConfig `toml:"bindings"`
	Capture  CaptureConfig   `toml:"capture"`
}

func Default() Config {
	return Config{
		Banner:   DefaultBanner,
		LogLevel: "info",
		Bindings: []BindingConfig{},
		Capture:  CaptureConfig{SnapLen: 65535},
	}
}

// Load reads path and applies every defined key over Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load satpctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load satpctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("banner") {
		cfg.Banner = raw.Banner
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("bindings") {
		cfg.Bindings = raw.Bindings
	}
	if meta.IsDefined("capture", "snaplen") {
		cfg.Capture.SnapLen = raw.Capture.SnapLen
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.Capture.SnapLen == 0 {
		return fmt.Errorf("capture snaplen must be positive")
	}
	for i, b := range cfg.Bindings {
		if _, err := binding.ParseTransport(b.Transport); err != nil {
			return fmt.Errorf("bindings[%d] invalid: %w", i, err)
		}
		if strings.TrimSpace(b.Layer) == "" {
			return fmt.Errorf("bindings[%d] invalid: layer is required", i)
		}
	}
	return nil
}

// ApplyBindings registers each configured binding on reg. Layers are resolved
// by name, so they must already be known to reg.
func ApplyBindings(reg *binding.Registry, entries []BindingConfig) error {
	for i, b := range entries {
		transport, err := binding.ParseTransport(b.Transport)
		if err != nil {
			return fmt.Errorf("bindings[%d]: %w", i, err)
		}
		layer, err := reg.LayerByName(b.Layer)
		if err != nil {
			return fmt.Errorf("bindings[%d]: %w", i, err)
		}
		rule := binding.Rule{Transport: transport, Layer: layer, SrcPort: b.SPort, DstPort: b.DPort}
		if err := reg.Register(rule); err != nil {
			return fmt.Errorf("bindings[%d]: %w", i, err)
		}
	}
	return nil
}

package vm

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ---------------------------------------------------------------------------
// Config: runtime tunables
// ---------------------------------------------------------------------------

// Config mirrors the build-time switches of the reference firmware as
// runtime fields. Zero numeric fields mean "use the default"; boolean
// fields are taken as given.
type Config struct {
	MaxVMCount        int  `toml:"max_vm_count"`
	MaxRegsSize       int  `toml:"max_regs_size"`
	MaxSymbolsCount   int  `toml:"max_symbols_count"`
	UseFloat          bool `toml:"use_float"`
	UseString         bool `toml:"use_string"`
	Require32BitAlign bool `toml:"require_32bit_align"`
	Debug             bool `toml:"debug"`
	TickIntervalMs    int  `toml:"tick_interval_ms"`
	Timeslice         int  `toml:"timeslice"` // scheduling quanta per dispatch turn
}

// DefaultConfig returns the defaults matching the reference firmware.
func DefaultConfig() Config {
	return Config{
		MaxVMCount:      5,
		MaxRegsSize:     100,
		MaxSymbolsCount: 300,
		UseFloat:        true,
		UseString:       true,
		TickIntervalMs:  1,
		Timeslice:       3,
	}
}

// normalize fills zero fields from the defaults.
func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MaxVMCount <= 0 {
		c.MaxVMCount = d.MaxVMCount
	}
	if c.MaxRegsSize <= 0 {
		c.MaxRegsSize = d.MaxRegsSize
	}
	if c.MaxSymbolsCount <= 0 {
		c.MaxSymbolsCount = d.MaxSymbolsCount
	}
	if c.TickIntervalMs <= 0 {
		c.TickIntervalMs = d.TickIntervalMs
	}
	if c.Timeslice <= 0 {
		c.Timeslice = d.Timeslice
	}
}

// LoadConfig reads a picovm.toml. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

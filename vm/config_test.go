package vm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaultsOnMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picovm.toml")
	content := `
max_vm_count = 8
max_regs_size = 64
max_symbols_count = 500
use_float = false
require_32bit_align = true
debug = true
tick_interval_ms = 10
timeslice = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxVMCount != 8 || cfg.MaxRegsSize != 64 || cfg.MaxSymbolsCount != 500 {
		t.Errorf("limits not applied: %+v", cfg)
	}
	if cfg.UseFloat {
		t.Error("use_float = false not applied")
	}
	if !cfg.Require32BitAlign || !cfg.Debug {
		t.Error("boolean flags not applied")
	}
	if cfg.TickIntervalMs != 10 || cfg.Timeslice != 5 {
		t.Errorf("scheduler tunables not applied: %+v", cfg)
	}
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("max_vm_count = {{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed TOML should error")
	}
}

func TestConfigNormalizeFillsZeroes(t *testing.T) {
	c := Config{}
	c.normalize()
	d := DefaultConfig()
	if c.MaxVMCount != d.MaxVMCount || c.MaxRegsSize != d.MaxRegsSize ||
		c.MaxSymbolsCount != d.MaxSymbolsCount || c.TickIntervalMs != d.TickIntervalMs {
		t.Errorf("normalize() = %+v, want defaults filled", c)
	}
}

func TestFloatDisabledRejectsFloatLiterals(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseFloat = false
	rt, err := Init(make([]byte, 32*1024), &testHAL{}, cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	cb := NewCodeBuilder(1, 4)
	cb.ABx(OpLOADL, 1, cb.PoolFloat(1.5))
	cb.ABC(OpSTOP, 0, 0, 0)

	if _, err := rt.LoadBytecode(cb.Bytes(false)); err == nil {
		t.Error("float literal should be rejected with float support off")
	}
}

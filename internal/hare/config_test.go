package hare

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfig_ValidateRejectsBadFields(t *testing.T) {
	base := DefaultConfig()

	bad := base
	bad.PageShift = MinPageShift - 1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for out-of-range pageShift")
	}

	bad = base
	bad.MaxCacheFrames = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for non-positive maxCacheFrames")
	}

	bad = base
	bad.Eviction = "random"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for unknown eviction policy")
	}
}

func TestLoadConfigFile_MissingFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigFile_OverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hare.yaml")
	contents := "pageShift: 13\nmaxCacheFrames: 64\neviction: fifo\nlockTimeoutMs: 1000\nuseDirectIO: false\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load config file: %v", err)
	}
	if cfg.PageShift != 13 {
		t.Errorf("pageShift: got %d want 13", cfg.PageShift)
	}
	if cfg.MaxCacheFrames != 64 {
		t.Errorf("maxCacheFrames: got %d want 64", cfg.MaxCacheFrames)
	}
	if cfg.Eviction != EvictionFIFO {
		t.Errorf("eviction: got %q want %q", cfg.Eviction, EvictionFIFO)
	}
	if cfg.LockTimeoutMS != 1000 {
		t.Errorf("lockTimeoutMs: got %d want 1000", cfg.LockTimeoutMS)
	}
}

func TestCreateDirectWithConfig_WiresPageShiftAndCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configured.hare")
	cfg := DefaultConfig()
	cfg.PageShift = MinPageShift
	cfg.MaxCacheFrames = 8
	cfg.Eviction = EvictionFIFO

	dm, err := CreateDirectWithConfig(path, cfg)
	if err != nil {
		t.Fatalf("createDirectWithConfig: %v", err)
	}
	defer dm.Close()

	if got := dm.PageShift(); got != cfg.PageShift {
		t.Fatalf("pageShift: got %d want %d", got, cfg.PageShift)
	}

	pool := NewBufferPoolFromConfig(dm, cfg)
	if pool.capacity != cfg.MaxCacheFrames {
		t.Fatalf("pool capacity: got %d want %d", pool.capacity, cfg.MaxCacheFrames)
	}
	if pool.policy != cfg.Eviction {
		t.Fatalf("pool policy: got %q want %q", pool.policy, cfg.Eviction)
	}
}

func TestCreateDirectWithConfig_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.hare")
	cfg := DefaultConfig()
	cfg.MaxCacheFrames = 0
	if _, err := CreateDirectWithConfig(path, cfg); err == nil {
		t.Fatal("expected invalid config to be rejected before touching the filesystem")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected no file to be created for a rejected config")
	}
}

func TestCreateDirectWithConfig_DirectIOOptIn(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("O_DIRECT is only exercised on linux")
	}
	path := filepath.Join(t.TempDir(), "direct.hare")
	cfg := DefaultConfig()
	cfg.PageShift = MinPageShift
	cfg.UseDirectIO = true

	dm, err := CreateDirectWithConfig(path, cfg)
	if err != nil {
		t.Fatalf("createDirectWithConfig with O_DIRECT: %v", err)
	}
	defer dm.Close()

	id, buf, err := dm.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	copy(buf, []byte("direct-io"))
	if err := dm.Update(id, buf); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := dm.Read(id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got[:9]) != "direct-io" {
		t.Fatalf("expected round-tripped content, got %q", got[:9])
	}
}

func TestCreateWALWithConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configured-wal.hare")
	cfg := DefaultConfig()
	cfg.PageShift = MinPageShift

	m, err := CreateWALWithConfig(path, cfg)
	if err != nil {
		t.Fatalf("createWALWithConfig: %v", err)
	}
	defer m.Close()

	id, buf, err := m.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	copy(buf, []byte("wal-config"))
	if err := m.Update(id, buf); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := m.Read(id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got[:10]) != "wal-config" {
		t.Fatalf("expected committed content, got %q", got[:10])
	}
}

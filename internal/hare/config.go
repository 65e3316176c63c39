package hare

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EvictionPolicy selects the buffer pool's victim-selection order.
type EvictionPolicy string

const (
	EvictionLRU  EvictionPolicy = "lru"
	EvictionFIFO EvictionPolicy = "fifo"
)

// Config holds caller-supplied defaults for opening or creating a HARE file.
// The on-disk contract never depends on this struct — a single system
// property informs the default page size, but that choice is purely a
// caller-side convenience, never an on-disk contract.
type Config struct {
	PageShift      uint32
	MaxCacheFrames int
	Eviction       EvictionPolicy
	LockTimeoutMS  int
	UseDirectIO    bool
}

// DefaultConfig returns the engine's built-in defaults.
func DefaultConfig() Config {
	return Config{
		PageShift:      DefaultPageShift,
		MaxCacheFrames: 1024,
		Eviction:       EvictionLRU,
		LockTimeoutMS:  5000,
		UseDirectIO:    false,
	}
}

// yamlConfig mirrors Config's fields for hare.yaml, an optional on-disk
// defaults file a caller may drop next to a database directory.
type yamlConfig struct {
	PageShift      *uint32 `yaml:"pageShift"`
	MaxCacheFrames *int    `yaml:"maxCacheFrames"`
	Eviction       *string `yaml:"eviction"`
	LockTimeoutMS  *int    `yaml:"lockTimeoutMs"`
	UseDirectIO    *bool   `yaml:"useDirectIO"`
}

// LoadConfigFile reads defaults from a YAML file, overlaying them onto
// DefaultConfig. A missing file is not an error — it simply yields the
// built-in defaults, matching the "caller-side convenience" status of this
// file.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return cfg, err
	}
	if y.PageShift != nil {
		cfg.PageShift = *y.PageShift
	}
	if y.MaxCacheFrames != nil {
		cfg.MaxCacheFrames = *y.MaxCacheFrames
	}
	if y.Eviction != nil {
		cfg.Eviction = EvictionPolicy(*y.Eviction)
	}
	if y.LockTimeoutMS != nil {
		cfg.LockTimeoutMS = *y.LockTimeoutMS
	}
	if y.UseDirectIO != nil {
		cfg.UseDirectIO = *y.UseDirectIO
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cfg against the constraints Create*WithConfig/
// Open*WithConfig rely on before touching any file. UseDirectIO additionally
// requires the configured page size to be a multiple of the platform's
// O_DIRECT alignment, since every read/write against an O_DIRECT file
// descriptor must land on an aligned boundary of an aligned length.
func (cfg Config) Validate() error {
	if cfg.PageShift < MinPageShift || cfg.PageShift > MaxPageShift {
		return fmt.Errorf("hare: config pageShift %d out of range [%d..%d]", cfg.PageShift, MinPageShift, MaxPageShift)
	}
	if cfg.MaxCacheFrames < 1 {
		return fmt.Errorf("hare: config maxCacheFrames must be >= 1, got %d", cfg.MaxCacheFrames)
	}
	if cfg.Eviction != EvictionLRU && cfg.Eviction != EvictionFIFO {
		return fmt.Errorf("hare: config eviction %q is neither %q nor %q", cfg.Eviction, EvictionLRU, EvictionFIFO)
	}
	if block := directIOBlockSize(); cfg.UseDirectIO && block > 0 && PageSize(cfg.PageShift)%block != 0 {
		return fmt.Errorf("hare: config useDirectIO requires pageShift whose size is a multiple of %d bytes, got %d", block, PageSize(cfg.PageShift))
	}
	return nil
}

// LockTimeout returns LockTimeoutMS as a time.Duration, the form the disk
// manager constructors take.
func (cfg Config) LockTimeout() time.Duration {
	return time.Duration(cfg.LockTimeoutMS) * time.Millisecond
}

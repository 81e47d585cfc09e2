// Package scrubconfig loads the operator-facing configuration for a scrub
// run using github.com/spf13/viper, so the same struct can be
// populated from a YAML file and SCRUB_-prefixed environment variables.
package scrubconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/NVIDIA/btrfs-scrub/blunder"
)

// BGFlags is the background-mode bitfield controlling optional scrub
// behavior.
type BGFlags uint32

const (
	// BGSCEnum pre-enumerates device extents to refine the rate
	// controller's target-bytes estimate before the main pass.
	BGSCEnum BGFlags = 1 << iota
	// BGSCBoost allows the rate controller to request a temporary I/O
	// priority boost when scrub has fallen far behind its deadline.
	BGSCBoost
)

func (f BGFlags) Has(bit BGFlags) bool { return f&bit != 0 }

// Config is the full set of knobs a scrub run is started with.
type Config struct {
	DeviceID string `mapstructure:"device_id"`
	StartLogical uint64 `mapstructure:"start_logical"`
	EndLogical uint64 `mapstructure:"end_logical"`
	ReadOnly bool `mapstructure:"read_only"`
	DeadlineSecs uint64 `mapstructure:"deadline_secs"`
	BGFlags BGFlags `mapstructure:"bg_flags"`
	ReplaceTarget string `mapstructure:"replace_target"`
	SynergyEnabled bool `mapstructure:"synergy_enabled"`

	PageSize uint64 `mapstructure:"page_size"`
	SectorSize uint64 `mapstructure:"sector_size"`
	NodeSize uint64 `mapstructure:"node_size"`
	PagesPerBatch uint64 `mapstructure:"pages_per_batch"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MaxMirrors int `mapstructure:"max_mirrors"`

	LockHoldTimeLimit time.Duration `mapstructure:"lock_hold_time_limit"`
}

// DefaultConfig matches the steady-state defaults a deadline-less scrub
// runs with.
func DefaultConfig() Config {
	return Config{
		ReadOnly: true,
		PageSize: 4096,
		SectorSize: 4096,
		NodeSize: 16384,
		PagesPerBatch: 16,
		MaxPoolSize: 8,
		MaxMirrors: 4,
	}
}

// Load reads configFile (if non-empty) over DefaultConfig, then applies any
// SCRUB_-prefixed environment variable overrides.
func Load(configFile string) (cfg Config, err error) {
	cfg = DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("SCRUB")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err = v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("scrubconfig: reading %s: %w", configFile, err)
		}
	}

	// AutomaticEnv only consults the environment for keys viper already
	// knows about; bind every Config key so SCRUB_* overrides apply even
	// when the key is absent from configFile.
	for _, key := range []string{
		"device_id", "start_logical", "end_logical", "read_only", "deadline_secs",
		"bg_flags", "replace_target", "synergy_enabled", "page_size", "sector_size",
		"node_size", "pages_per_batch", "max_pool_size", "max_mirrors", "lock_hold_time_limit",
	} {
		if err = v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("scrubconfig: binding %s: %w", key, err)
		}
	}

	if err = v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("scrubconfig: unmarshal: %w", err)
	}
	return cfg, nil
}

// Validate enforces the preconditions whose violation maps to
// StatusInvalidArgument: device missing, nodesize larger than a stripe,
// zero pages_per_batch, zero max_pool_size.
func (cfg Config) Validate(stripeLen uint64) error {
	if cfg.DeviceID == "" {
		return blunder.InvalidArgument("scrubconfig: device_id is required")
	}
	if cfg.NodeSize > stripeLen {
		return blunder.InvalidArgument("scrubconfig: node_size %d exceeds stripe length %d", cfg.NodeSize, stripeLen)
	}
	if cfg.PagesPerBatch == 0 {
		return blunder.InvalidArgument("scrubconfig: pages_per_batch must be > 0")
	}
	if cfg.MaxPoolSize == 0 {
		return blunder.InvalidArgument("scrubconfig: max_pool_size must be > 0")
	}
	return nil
}

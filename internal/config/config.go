// Package config holds the functional-options Config for a biphase-core
// node, adapted from the drand daemon's Config/ConfigOption pattern
// (core/config.go): a struct of defaults overridden by a variadic option
// list, with an optional TOML settings file layered on top.
package config

import (
	"fmt"
	"path"
	"time"

	clock "github.com/jonboulle/clockwork"

	"github.com/BurntSushi/toml"

	"github.com/lemonforest/biphase/common/log"
	"github.com/lemonforest/biphase/internal/fs"
)

const (
	// DefaultConfigFolderName is the directory created under the user's
	// home folder to hold node settings.
	DefaultConfigFolderName = ".biphase-core"

	// DefaultDebugBind is the default bind address for the telemetry
	// /metrics and /debug/pprof HTTP server.
	DefaultDebugBind = "127.0.0.1:8889"

	// DefaultLockTimeout is the guarded-accessor bound on shared corestate.
	DefaultLockTimeout = 100 * time.Millisecond
)

// DefaultConfigFolder returns $HOME/.biphase-core.
func DefaultConfigFolder() string {
	return path.Join(fs.HomeFolder(), DefaultConfigFolderName)
}

// ConfigOption applies a setting to a Config.
type ConfigOption func(*Config)

// Config holds the runtime configuration for one node.
type Config struct {
	configFolder string
	debugBind    string
	lockTimeout  time.Duration

	initialPeriodMs uint32
	initialDutyPct  uint8
	defaultMode     uint8

	logger log.Logger
	clock  clock.Clock
}

// NewConfig builds a Config with defaults, then applies opts in order.
func NewConfig(l log.Logger, opts ...ConfigOption) *Config {
	c := &Config{
		configFolder:    DefaultConfigFolder(),
		debugBind:       DefaultDebugBind,
		lockTimeout:     DefaultLockTimeout,
		initialPeriodMs: 2000,
		initialDutyPct:  50,
		logger:          l,
		clock:           clock.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Config) ConfigFolder() string       { return c.configFolder }
func (c *Config) DebugBind() string          { return c.debugBind }
func (c *Config) LockTimeout() time.Duration { return c.lockTimeout }
func (c *Config) InitialPeriodMs() uint32    { return c.initialPeriodMs }
func (c *Config) InitialDutyPct() uint8      { return c.initialDutyPct }
func (c *Config) DefaultMode() uint8         { return c.defaultMode }
func (c *Config) Logger() log.Logger         { return c.logger }
func (c *Config) Clock() clock.Clock         { return c.clock }

// WithConfigFolder overrides the settings directory.
func WithConfigFolder(folder string) ConfigOption {
	return func(c *Config) { c.configFolder = folder }
}

// WithDebugBind overrides the metrics/pprof bind address.
func WithDebugBind(addr string) ConfigOption {
	return func(c *Config) { c.debugBind = addr }
}

// WithLockTimeout overrides the guarded-accessor timeout.
func WithLockTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.lockTimeout = d }
}

// WithInitialPattern overrides the Leader's boot-time cycle parameters.
func WithInitialPattern(periodMs uint32, dutyPct, mode uint8) ConfigOption {
	return func(c *Config) {
		c.initialPeriodMs = periodMs
		c.initialDutyPct = dutyPct
		c.defaultMode = mode
	}
}

// WithClock overrides the wall clock a Node schedules its coordination and
// pattern threads against. Tests substitute a clockwork.FakeClock to drive
// the threads deterministically instead of sleeping in real time.
func WithClock(cl clock.Clock) ConfigOption {
	return func(c *Config) { c.clock = cl }
}

// fileSettings mirrors the subset of Config a TOML settings file may
// override. Fields are pointers so an absent key leaves the default alone.
type fileSettings struct {
	DebugBind       *string `toml:"debug_bind"`
	LockTimeoutMs   *int64  `toml:"lock_timeout_ms"`
	InitialPeriodMs *uint32 `toml:"initial_period_ms"`
	InitialDutyPct  *uint8  `toml:"initial_duty_pct"`
	DefaultMode     *uint8  `toml:"default_mode"`
}

// WithSettingsFile loads a TOML settings file and applies whatever fields it
// sets, leaving the constructor's defaults alone for everything it omits.
// A missing file is not an error: a freshly-paired device has none yet.
func WithSettingsFile(settingsPath string) ConfigOption {
	return func(c *Config) {
		if exists, err := fs.Exists(settingsPath); err != nil || !exists {
			return
		}
		var fset fileSettings
		if _, err := toml.DecodeFile(settingsPath, &fset); err != nil {
			c.logger.Warnw("failed to parse settings file, keeping defaults", "path", settingsPath, "err", err)
			return
		}
		if fset.DebugBind != nil {
			c.debugBind = *fset.DebugBind
		}
		if fset.LockTimeoutMs != nil {
			c.lockTimeout = time.Duration(*fset.LockTimeoutMs) * time.Millisecond
		}
		if fset.InitialPeriodMs != nil {
			c.initialPeriodMs = *fset.InitialPeriodMs
		}
		if fset.InitialDutyPct != nil {
			c.initialDutyPct = *fset.InitialDutyPct
		}
		if fset.DefaultMode != nil {
			c.defaultMode = *fset.DefaultMode
		}
	}
}

// EnsureConfigFolder creates the settings directory with restrictive
// permissions if it doesn't already exist.
func EnsureConfigFolder(c *Config) error {
	if exists, _ := fs.Exists(c.configFolder); exists {
		return nil
	}
	if created := fs.CreateSecureFolder(c.configFolder); created == "" {
		return fmt.Errorf("config: failed to create config folder %s", c.configFolder)
	}
	return nil
}

// SettingsPath is the conventional location of the TOML settings file
// within the config folder.
func (c *Config) SettingsPath() string {
	return path.Join(c.configFolder, "settings.toml")
}

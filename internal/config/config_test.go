package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	clock "github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/lemonforest/biphase/common/testlogger"
)

func TestNewConfigAppliesDefaults(t *testing.T) {
	c := NewConfig(testlogger.New(t))

	require.Equal(t, DefaultConfigFolder(), c.ConfigFolder())
	require.Equal(t, DefaultDebugBind, c.DebugBind())
	require.Equal(t, DefaultLockTimeout, c.LockTimeout())
	require.Equal(t, uint32(2000), c.InitialPeriodMs())
	require.Equal(t, uint8(50), c.InitialDutyPct())
}

func TestWithOptionsOverrideDefaults(t *testing.T) {
	c := NewConfig(testlogger.New(t),
		WithConfigFolder("/tmp/biphase-test"),
		WithDebugBind("127.0.0.1:9999"),
		WithLockTimeout(50*time.Millisecond),
		WithInitialPattern(3000, 30, 2),
	)

	require.Equal(t, "/tmp/biphase-test", c.ConfigFolder())
	require.Equal(t, "127.0.0.1:9999", c.DebugBind())
	require.Equal(t, 50*time.Millisecond, c.LockTimeout())
	require.Equal(t, uint32(3000), c.InitialPeriodMs())
	require.Equal(t, uint8(30), c.InitialDutyPct())
	require.Equal(t, uint8(2), c.DefaultMode())
}

func TestWithClockOverridesWallClock(t *testing.T) {
	fake := clock.NewFakeClock()
	c := NewConfig(testlogger.New(t), WithClock(fake))
	require.Equal(t, clock.Clock(fake), c.Clock())
}

func TestWithSettingsFileAppliesPresentFieldsOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	contents := "debug_bind = \"0.0.0.0:7000\"\ninitial_duty_pct = 80\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))

	c := NewConfig(testlogger.New(t), WithSettingsFile(path))

	require.Equal(t, "0.0.0.0:7000", c.DebugBind())
	require.Equal(t, uint8(80), c.InitialDutyPct())
	// Fields absent from the file keep their constructor defaults.
	require.Equal(t, uint32(2000), c.InitialPeriodMs())
}

func TestWithSettingsFileMissingFileIsNotAnError(t *testing.T) {
	c := NewConfig(testlogger.New(t), WithSettingsFile(filepath.Join(t.TempDir(), "absent.toml")))
	require.Equal(t, DefaultDebugBind, c.DebugBind())
}

func TestEnsureConfigFolderCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "settings")
	c := NewConfig(testlogger.New(t), WithConfigFolder(dir))

	require.NoError(t, EnsureConfigFolder(c))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestSettingsPathJoinsConfigFolder(t *testing.T) {
	c := NewConfig(testlogger.New(t), WithConfigFolder("/tmp/biphase-test"))
	require.Equal(t, "/tmp/biphase-test/settings.toml", c.SettingsPath())
}

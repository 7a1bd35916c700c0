// biphase-core runs the bilateral time-sync and coordination core's
// in-process demo harness: two nodes wired over an in-memory transport,
// with a Prometheus metrics endpoint for observing the handshake, beacon,
// pattern, and mode-change lifecycle without real radios.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/lemonforest/biphase/common/log"
	"github.com/lemonforest/biphase/internal/config"
	"github.com/lemonforest/biphase/internal/demo"
	"github.com/lemonforest/biphase/internal/fs"
	"github.com/lemonforest/biphase/internal/node"
	"github.com/lemonforest/biphase/internal/telemetry"
	"github.com/lemonforest/biphase/internal/telemetry/pprof"
)

// Automatically set through -ldflags, following the teacher's version
// stamping convention.
var (
	version   = "dev"
	gitCommit = "none"
	buildDate = "unknown"
)

func banner() {
	fmt.Printf("biphase-core %s (commit %s, built %s)\n", version, gitCommit, buildDate)
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "log at debug level instead of info",
}

var folderFlag = &cli.StringFlag{
	Name:  "folder",
	Value: config.DefaultConfigFolder(),
	Usage: "settings directory for this node's TOML configuration",
}

var debugBindFlag = &cli.StringFlag{
	Name:  "debug-bind",
	Value: config.DefaultDebugBind,
	Usage: "bind address for the /metrics and /debug/pprof endpoints",
}

var leaderBatteryFlag = &cli.IntFlag{
	Name:  "leader-battery",
	Value: 90,
	Usage: "simulated battery percentage for the higher-charge demo node",
}

var followerBatteryFlag = &cli.IntFlag{
	Name:  "follower-battery",
	Value: 60,
	Usage: "simulated battery percentage for the lower-charge demo node",
}

var durationFlag = &cli.DurationFlag{
	Name:  "duration",
	Value: 0,
	Usage: "run for this long then exit (0 runs until interrupted)",
}

// statusMux serves the local control surface (SPEC_FULL.md §4.7) for both
// demo nodes under /debug/status/leader and /debug/status/follower.
func statusMux(pair *demo.Pair) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/leader", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, pair.Leader.Status())
	})
	mux.HandleFunc("/follower", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, pair.Follower.Status())
	})
	return mux
}

func writeStatus(w http.ResponseWriter, status node.Status) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func newLogger(c *cli.Context) log.Logger {
	level := log.InfoLevel
	if c.Bool(verboseFlag.Name) {
		level = log.DebugLevel
	}
	return log.New(os.Stdout, level, false)
}

func runDemo(c *cli.Context) error {
	banner()
	l := newLogger(c)

	cfg := config.NewConfig(l,
		config.WithConfigFolder(c.String(folderFlag.Name)),
		config.WithDebugBind(c.String(debugBindFlag.Name)),
	)
	if err := config.EnsureConfigFolder(cfg); err != nil {
		return err
	}
	if exists, _ := fs.Exists(cfg.SettingsPath()); exists {
		cfg = config.NewConfig(l,
			config.WithConfigFolder(c.String(folderFlag.Name)),
			config.WithDebugBind(c.String(debugBindFlag.Name)),
			config.WithSettingsFile(cfg.SettingsPath()),
		)
	}

	leaderPct := c.Int(leaderBatteryFlag.Name)
	followerPct := c.Int(followerBatteryFlag.Name)
	pair := demo.NewPair(l, uint8(leaderPct), uint8(followerPct))
	defer pair.Close()

	telemetry.Start(l, cfg.DebugBind(), pprof.WithProfile(), statusMux(pair))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if d := c.Duration(durationFlag.Name); d > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, d)
		defer timeoutCancel()
	}

	pair.Run(ctx)

	l.Infow("demo pair running", "leader_role", pair.Leader.State().Role().String(),
		"follower_role", pair.Follower.State().Role().String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case <-sig:
		l.Infow("received shutdown signal")
	}
	return nil
}

func CLI() {
	app := cli.NewApp()
	app.Name = "biphase-core"
	app.Version = version
	app.Usage = "bilateral time-sync and coordination core demo runner"

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("biphase-core %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	}

	app.Commands = []*cli.Command{
		{
			Name:  "demo",
			Usage: "run two nodes in-process over an in-memory transport",
			Flags: []cli.Flag{folderFlag, debugBindFlag, leaderBatteryFlag, followerBatteryFlag, durationFlag, verboseFlag},
			Action: func(c *cli.Context) error {
				return runDemo(c)
			},
		},
	}
	app.Flags = []cli.Flag{verboseFlag}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "biphase-core: %s\n", err)
		os.Exit(1)
	}
}

func main() {
	CLI()
}

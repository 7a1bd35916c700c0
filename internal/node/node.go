// Package node wires the five coordination components into the three
// concurrent threads spec.md §5 describes: a coordination thread that
// drains inbound messages and drives the handshake/beacon/disconnect
// bookkeeping, a pattern/actuator thread that ticks the Pattern Scheduler,
// and the transport's own receive callback, which only ever enqueues.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	clock "github.com/jonboulle/clockwork"

	"github.com/lemonforest/biphase/common"
	"github.com/lemonforest/biphase/common/log"
	"github.com/lemonforest/biphase/internal/config"
	"github.com/lemonforest/biphase/internal/corestate"
	"github.com/lemonforest/biphase/internal/modecommit"
	"github.com/lemonforest/biphase/internal/pattern"
	"github.com/lemonforest/biphase/internal/ports"
	"github.com/lemonforest/biphase/internal/role"
	"github.com/lemonforest/biphase/internal/router"
	"github.com/lemonforest/biphase/internal/syncengine"
	"github.com/lemonforest/biphase/internal/telemetry"
	"github.com/lemonforest/biphase/internal/wire"
)

// Node owns one side of the bilateral pairing: the shared state, the five
// coordination components, and the goroutines that drive them.
type Node struct {
	log     log.Logger
	cfg     *config.Config
	state   *corestate.State
	engine  *syncengine.Engine
	elector *role.Elector
	commit  *modecommit.Commit
	router  *router.Router
	sched   *pattern.Scheduler

	transport ports.Transport
	clock     ports.Clock
	battery   ports.Battery
	identity  ports.Identity
	watchdog  ports.Watchdog

	// wallClock schedules the coordination/pattern threads' own timers and
	// tickers, independent of the domain clock above: tests substitute a
	// clockwork.FakeClock to drive the loops without a real sleep.
	wallClock clock.Clock

	inbound chan ports.InboundMessage

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles the external ports a Node is wired against; production code
// supplies real BLE transport, ADC battery, and PWM actuator adapters, and
// the demo harness supplies in-process fakes.
type Deps struct {
	Transport ports.Transport
	Clock     ports.Clock
	Battery   ports.Battery
	Identity  ports.Identity
	Watchdog  ports.Watchdog
	Actuator  ports.Actuator
}

// New builds a Node from its config and dependencies, wiring the five
// components against one shared corestate.State.
func New(cfg *config.Config, deps Deps) *Node {
	l := cfg.Logger()
	state := corestate.New(l, cfg.LockTimeout())
	engine := syncengine.New(l, state)
	elector := role.New(l, state)
	commit := modecommit.New(l, state)
	sched := pattern.New(l, state, engine, deps.Actuator)
	r := router.New(l, state, engine, commit, deps.Transport, deps.Clock)

	return &Node{
		log:       l,
		cfg:       cfg,
		state:     state,
		engine:    engine,
		elector:   elector,
		commit:    commit,
		router:    r,
		sched:     sched,
		transport: deps.Transport,
		clock:     deps.Clock,
		battery:   deps.Battery,
		identity:  deps.Identity,
		watchdog:  deps.Watchdog,
		wallClock: cfg.Clock(),
		inbound:   make(chan ports.InboundMessage, common.QueueDepth),
	}
}

// State exposes the shared corestate, primarily for tests and the demo
// harness's assertions.
func (n *Node) State() *corestate.State { return n.state }

// Engine exposes the Sync Engine, for the demo harness's tests to inspect
// handshake progress.
func (n *Node) Engine() *syncengine.Engine { return n.engine }

// Status is the local control surface snapshot (SPEC_FULL.md §4.7):
// role, connection state, offset estimate, filter mode, epoch, armed mode
// change, and sync failure count, analogous to the drand daemon's status
// RPC but served as a JSON debug endpoint instead of gRPC.
type Status struct {
	Role              string `json:"role"`
	ConnectionPhase   string `json:"connection_phase"`
	ClockOffsetUs     int64  `json:"clock_offset_us"`
	FilterMode        string `json:"filter_mode"`
	EpochValid        bool   `json:"epoch_valid"`
	EpochUs           int64  `json:"epoch_us"`
	PeriodMs          uint32 `json:"period_ms"`
	DutyPct           uint8  `json:"duty_pct"`
	ModeID            uint8  `json:"mode_id"`
	ArmedModeChange   bool   `json:"armed_mode_change"`
	HandshakeComplete bool   `json:"handshake_complete"`
	SyncFailures      int    `json:"sync_failures"`
}

// Status reports a snapshot of this node's current coordination state.
func (n *Node) Status() Status {
	filter := n.state.SyncFilter()
	pe := n.state.PatternEpoch()
	return Status{
		Role:              n.state.Role().String(),
		ConnectionPhase:   n.state.ConnectionState().Phase.String(),
		ClockOffsetUs:     filter.FilteredOffsetUs,
		FilterMode:        filter.Mode.String(),
		EpochValid:        pe.Valid,
		EpochUs:           pe.EpochUs,
		PeriodMs:          pe.PeriodMs,
		DutyPct:           pe.DutyPct,
		ModeID:            pe.ModeID,
		ArmedModeChange:   n.state.ArmedChange().Armed,
		HandshakeComplete: n.engine.HandshakeComplete(),
		SyncFailures:      n.engine.SyncFailures(),
	}
}

// OnInbound is the transport's receive callback. It never blocks: a full
// queue drops the newest frame and counts it (spec.md §5 resource model).
func (n *Node) OnInbound(msg ports.InboundMessage) {
	select {
	case n.inbound <- msg:
	default:
		telemetry.QueueDrops.WithLabelValues("inbound").Inc()
		n.log.Warnw("inbound queue full, dropping newest frame")
	}
}

// Connect runs role election against a freshly observed peer and arms the
// Role Elector's connection-lifecycle bookkeeping. The battery exchange
// itself happens over the existing pairing channel, outside this core's
// message protocol (spec.md §1 Out-of-scope).
func (n *Node) Connect(peerBatteryPct uint8, now time.Time) corestate.Role {
	localBattery := n.battery.PercentCharged()
	r := role.Elect(localBattery, peerBatteryPct, n.identity.LocalNodeID(), n.identity.PeerNodeID())
	n.elector.OnConnected(r, now)

	if err := n.router.FlushBuffered(context.Background()); err != nil {
		n.log.Debugw("no buffered messages to flush", "err", err)
	}

	if r == corestate.RoleLeader && !n.state.PatternEpoch().Valid {
		n.activateInitialPattern()
	}
	return r
}

// activateInitialPattern installs the Leader's first Pattern Epoch, seeded
// from the node's configured initial cycle parameters (spec.md §3:
// "Created when Leader first activates"). The Follower has no epoch of its
// own yet; it picks this one up from the Leader's next Beacon.
func (n *Node) activateInitialPattern() {
	n.state.SetPatternEpoch(corestate.PatternEpoch{
		Valid:    true,
		EpochUs:  n.clock.NowMicros(),
		PeriodMs: n.cfg.InitialPeriodMs(),
		DutyPct:  n.cfg.InitialDutyPct(),
		ModeID:   n.cfg.DefaultMode(),
	})
	n.log.Infow("initial pattern epoch activated",
		"periodMs", n.cfg.InitialPeriodMs(), "dutyPct", n.cfg.InitialDutyPct(), "mode", n.cfg.DefaultMode())
}

// Disconnect marks the link down; the Role Elector preserves the Pattern
// Epoch for up to DisconnectInvalidationTimeout.
func (n *Node) Disconnect(now time.Time) {
	n.elector.OnDisconnected(now)
}

// ProposeModeChange is the Leader-side entry point for a mode change
// request (e.g. from a client app setting): computes the two-phase
// proposal, arms the Leader's own copy, and returns the wire frame to send.
func (n *Node) ProposeModeChange(nowUs int64, newMode uint8, newPeriodMs, newActiveMs uint32) []byte {
	p := n.commit.Propose(n.engine.GetSyncTime(nowUs, n.state.Role()), newMode, newPeriodMs, newActiveMs)
	n.commit.ArmLeaderSide(p)
	return wire.Encode(uint32(nowUs/1000), p)
}

// Run starts the coordination and pattern/actuator threads and blocks until
// ctx is cancelled or Close is called.
func (n *Node) Run(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)

	n.wg.Add(2)
	go n.coordinationLoop(ctx)
	go n.patternLoop(ctx)
}

func (n *Node) coordinationLoop(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.inbound:
			if err := n.router.Dispatch(ctx, msg); err != nil {
				n.log.Debugw("dispatch error", "err", err)
			}
		case <-n.wallClock.After(common.CoordinationLoopPollTimeout):
		}

		n.watchdog.Reset()
		n.periodicWork(ctx)
	}
}

// periodicWork runs the non-message-triggered coordination bookkeeping:
// handshake retries, beacon pacing, disconnect-timeout and drift checks.
func (n *Node) periodicWork(ctx context.Context) {
	now := time.Now()
	nowUs := n.clock.NowMicros()
	role := n.state.Role()

	n.elector.CheckDisconnectTimeout(now)

	switch role {
	case corestate.RoleFollower:
		if !n.engine.HandshakeComplete() && n.engine.HandshakeAttempts() < common.MaxHandshakeAttempts {
			req := n.engine.BeginHandshake(nowUs)
			if err := n.transport.Send(ctx, wire.Encode(uint32(nowUs/1000), req)); err != nil {
				n.log.Debugw("failed to send time request", "err", err)
			}
		}
	case corestate.RoleLeader:
		pe := n.state.PatternEpoch()
		if b, ok := n.engine.BuildBeacon(nowUs, pe); ok {
			if err := n.transport.Send(ctx, wire.Encode(uint32(nowUs/1000), b)); err != nil {
				n.log.Debugw("failed to send beacon", "err", err)
				return
			}
			n.engine.RecordBeaconSent(nowUs)
		}
	}

	n.engine.CheckDriftDetected(nowUs)
}

func (n *Node) patternLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := n.wallClock.NewTicker(common.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		nowUs := n.clock.NowMicros()
		report, ok := n.sched.Tick(nowUs)
		if !ok {
			continue
		}
		if err := n.transport.Send(ctx, wire.Encode(uint32(nowUs/1000), report)); err != nil {
			n.log.Debugw("failed to send activation report", "err", err)
		}
	}
}

// Close stops both threads and returns an aggregated error if shutdown work
// failed (adapted from the drand daemon's multierror-based Close).
func (n *Node) Close() error {
	var result *multierror.Error
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	return result.ErrorOrNil()
}

// Package demo runs two biphase-core nodes in a single process, connected
// by an in-memory transport instead of the real BLE link, for local
// experimentation and integration testing (adapted from the drand demo
// harness's in-process LocalNode, demo/node/node_inprocess.go).
package demo

import (
	"context"
	"sync"
	"time"

	"github.com/lemonforest/biphase/common"
	"github.com/lemonforest/biphase/common/log"
	"github.com/lemonforest/biphase/internal/config"
	"github.com/lemonforest/biphase/internal/node"
	"github.com/lemonforest/biphase/internal/ports"
	"github.com/lemonforest/biphase/internal/util"
)

// memTransport delivers bytes synchronously to a peer's OnInbound callback,
// tagging them with the receiver's notion of "now" the way a real radio
// link's receive interrupt would.
type memTransport struct {
	mu        sync.RWMutex
	peer      func(ports.InboundMessage)
	clock     ports.Clock
	connected bool
}

func newMemTransport(clock ports.Clock) *memTransport {
	return &memTransport{clock: clock, connected: true}
}

func (t *memTransport) attach(peer func(ports.InboundMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peer = peer
}

func (t *memTransport) setConnected(c bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = c
}

func (t *memTransport) Send(_ context.Context, b []byte) error {
	t.mu.RLock()
	peer, connected, clock := t.peer, t.connected, t.clock
	t.mu.RUnlock()
	if !connected || peer == nil {
		return common.ErrNotConnected
	}
	cp := append([]byte(nil), b...)
	peer(ports.InboundMessage{Bytes: cp, RxMicros: clock.NowMicros()})
	return nil
}

type fixedBattery struct{ pct uint8 }

func (b fixedBattery) PercentCharged() uint8 { return b.pct }

type fixedIdentity struct{ local, peer common.NodeID }

func (i fixedIdentity) LocalNodeID() common.NodeID { return i.local }
func (i fixedIdentity) PeerNodeID() common.NodeID  { return i.peer }

type noopWatchdog struct{}

func (noopWatchdog) Reset() {}

// RecordedActivation captures one actuator command, for test assertions.
type RecordedActivation struct {
	At        time.Time
	State     ports.ActuatorState
	Direction ports.ActuatorDirection
	Intensity uint8
}

// recordingActuator appends every command it receives and fans it out to
// whichever diagnostic listeners are attached to events.
type recordingActuator struct {
	mu     sync.Mutex
	log    []RecordedActivation
	wall   func() time.Time
	events *util.FanOutChan[RecordedActivation]
}

func (a *recordingActuator) Command(state ports.ActuatorState, direction ports.ActuatorDirection, intensityPct uint8) {
	a.mu.Lock()
	rec := RecordedActivation{At: a.wall(), State: state, Direction: direction, Intensity: intensityPct}
	a.log = append(a.log, rec)
	a.mu.Unlock()

	select {
	case a.events.Chan() <- rec:
	default:
	}
}

// ActiveOnly filters an activation history down to just the ACTIVE
// transitions, discarding the INACTIVE bookends.
func ActiveOnly(history []RecordedActivation) []RecordedActivation {
	return util.Filter(history, func(r RecordedActivation) bool {
		return r.State == ports.ActuatorActive
	})
}

func (a *recordingActuator) History() []RecordedActivation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]RecordedActivation(nil), a.log...)
}

// FirstActive returns the earliest ACTIVE transition in a history, if any.
func FirstActive(history []RecordedActivation) (*RecordedActivation, error) {
	return util.First(history, func(r RecordedActivation) bool {
		return r.State == ports.ActuatorActive
	})
}

// Pair is two in-process Nodes wired to each other via memTransport, each
// with its own manually-advanced simClock (production nodes run independent
// crystals; the simulated clocks let tests inject controlled offset and
// drift rather than relying on wall-clock flakiness).
type Pair struct {
	Leader           *node.Node
	Follower         *node.Node
	LeaderActuator   *recordingActuator
	FollowerActuator *recordingActuator

	leaderClock   *simClock
	followerClock *simClock

	leaderTransport   *memTransport
	followerTransport *memTransport
}

// simClock is a manually-advanced ports.Clock, letting tests simulate two
// crystals with independent offset and drift without sleeping in real time.
type simClock struct {
	mu       sync.Mutex
	baseUs   int64
	driftPPM int64
}

func newSimClock(baseUs int64) *simClock {
	return &simClock{baseUs: baseUs}
}

func (c *simClock) NowMicros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseUs
}

// Advance moves the clock forward by elapsedUs of real time, applying the
// configured drift rate.
func (c *simClock) Advance(elapsedUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	adjusted := elapsedUs + elapsedUs*c.driftPPM/1_000_000
	c.baseUs += adjusted
}

// SetDriftPPM sets this clock's free-running drift relative to real time.
func (c *simClock) SetDriftPPM(ppm int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.driftPPM = ppm
}

// NewPair builds two nodes with fixed identities and batteries, wires their
// transports to each other, and elects roles once via Connect.
func NewPair(l log.Logger, leaderBatteryPct, followerBatteryPct uint8) *Pair {
	leaderID := common.NodeID{0, 0, 0, 0, 0, 1}
	followerID := common.NodeID{0, 0, 0, 0, 0, 2}

	leaderClock := newSimClock(0)
	followerClock := newSimClock(0)

	// Each transport delivers into the opposite node, so it stamps frames
	// with that receiving node's clock.
	leaderTransport := newMemTransport(followerClock)
	followerTransport := newMemTransport(leaderClock)

	leaderActuator := &recordingActuator{wall: time.Now, events: util.NewFanOutChan[RecordedActivation]()}
	followerActuator := &recordingActuator{wall: time.Now, events: util.NewFanOutChan[RecordedActivation]()}

	leaderCfg := config.NewConfig(l.Named("leader"))
	followerCfg := config.NewConfig(l.Named("follower"))

	leaderNode := node.New(leaderCfg, node.Deps{
		Transport: leaderTransport,
		Clock:     leaderClock,
		Battery:   fixedBattery{leaderBatteryPct},
		Identity:  fixedIdentity{leaderID, followerID},
		Watchdog:  noopWatchdog{},
		Actuator:  leaderActuator,
	})
	followerNode := node.New(followerCfg, node.Deps{
		Transport: followerTransport,
		Clock:     followerClock,
		Battery:   fixedBattery{followerBatteryPct},
		Identity:  fixedIdentity{followerID, leaderID},
		Watchdog:  noopWatchdog{},
		Actuator:  followerActuator,
	})

	leaderTransport.attach(followerNode.OnInbound)
	followerTransport.attach(leaderNode.OnInbound)

	now := time.Now()
	leaderNode.Connect(followerBatteryPct, now)
	followerNode.Connect(leaderBatteryPct, now)

	return &Pair{
		Leader:            leaderNode,
		Follower:          followerNode,
		LeaderActuator:    leaderActuator,
		FollowerActuator:  followerActuator,
		leaderClock:       leaderClock,
		followerClock:     followerClock,
		leaderTransport:   leaderTransport,
		followerTransport: followerTransport,
	}
}

// Run starts both nodes' coordination and pattern threads.
func (p *Pair) Run(ctx context.Context) {
	p.Leader.Run(ctx)
	p.Follower.Run(ctx)
}

// Close stops both nodes and their event fan-outs.
func (p *Pair) Close() error {
	leaderErr := p.Leader.Close()
	followerErr := p.Follower.Close()
	p.LeaderActuator.events.Close()
	p.FollowerActuator.events.Close()
	if leaderErr != nil {
		return leaderErr
	}
	return followerErr
}

// ListenLeaderEvents registers a new listener for the Leader's activation
// events, for a demo UI or integration test to observe without polling
// History.
func (p *Pair) ListenLeaderEvents() (ch chan RecordedActivation, stop func()) {
	ch = p.LeaderActuator.events.Listen()
	return ch, func() { p.LeaderActuator.events.StopListening(ch) }
}

// ListenFollowerEvents is the Follower-side equivalent of ListenLeaderEvents.
func (p *Pair) ListenFollowerEvents() (ch chan RecordedActivation, stop func()) {
	ch = p.FollowerActuator.events.Listen()
	return ch, func() { p.FollowerActuator.events.StopListening(ch) }
}

// Disconnect severs the in-memory link in both directions, simulating a
// dropped radio connection.
func (p *Pair) Disconnect(now time.Time) {
	p.leaderTransport.setConnected(false)
	p.followerTransport.setConnected(false)
	p.Leader.Disconnect(now)
	p.Follower.Disconnect(now)
}

// Reconnect restores the link and re-runs role election.
func (p *Pair) Reconnect(leaderBatteryPct, followerBatteryPct uint8, now time.Time) {
	p.leaderTransport.setConnected(true)
	p.followerTransport.setConnected(true)
	p.Leader.Connect(followerBatteryPct, now)
	p.Follower.Connect(leaderBatteryPct, now)
}

// AdvanceBoth steps both simulated clocks forward by elapsedUs, preserving
// whatever drift each was configured with.
func (p *Pair) AdvanceBoth(elapsedUs int64) {
	p.leaderClock.Advance(elapsedUs)
	p.followerClock.Advance(elapsedUs)
}

// SetFollowerDriftPPM configures the Follower's simulated crystal drift
// relative to the Leader, for exercising CheckDriftDetected.
func (p *Pair) SetFollowerDriftPPM(ppm int64) {
	p.followerClock.SetDriftPPM(ppm)
}

// CombinedHistory merges both actuators' histories into one slice, for a
// demo UI or test that wants a single timeline across both nodes.
func (p *Pair) CombinedHistory() []RecordedActivation {
	return util.Concat(p.LeaderActuator.History(), p.FollowerActuator.History())
}

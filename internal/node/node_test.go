package node

import (
	"context"
	"testing"
	"time"

	clock "github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/lemonforest/biphase/common"
	"github.com/lemonforest/biphase/common/testlogger"
	"github.com/lemonforest/biphase/internal/config"
	"github.com/lemonforest/biphase/internal/corestate"
	"github.com/lemonforest/biphase/internal/ports"
	"github.com/lemonforest/biphase/internal/wire"
)

type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) Send(_ context.Context, b []byte) error {
	f.sent = append(f.sent, b)
	return nil
}

type fakeClock struct{ us int64 }

func (c *fakeClock) NowMicros() int64 { return c.us }

type fakeBattery struct{ pct uint8 }

func (b fakeBattery) PercentCharged() uint8 { return b.pct }

type fakeIdentity struct{ local, peer common.NodeID }

func (i fakeIdentity) LocalNodeID() common.NodeID { return i.local }
func (i fakeIdentity) PeerNodeID() common.NodeID  { return i.peer }

type fakeWatchdog struct{ resets int }

func (w *fakeWatchdog) Reset() { w.resets++ }

type fakeActuator struct {
	calls int
}

func (a *fakeActuator) Command(ports.ActuatorState, ports.ActuatorDirection, uint8) { a.calls++ }

func newTestNode(t *testing.T) (*Node, *fakeTransport) {
	transport := &fakeTransport{}
	cfg := config.NewConfig(testlogger.New(t))
	n := New(cfg, Deps{
		Transport: transport,
		Clock:     &fakeClock{},
		Battery:   fakeBattery{80},
		Identity:  fakeIdentity{common.NodeID{1}, common.NodeID{2}},
		Watchdog:  &fakeWatchdog{},
		Actuator:  &fakeActuator{},
	})
	return n, transport
}

func TestConnectElectsLeaderOnHigherBattery(t *testing.T) {
	n, _ := newTestNode(t)
	role := n.Connect(40, time.Now())
	require.Equal(t, corestate.RoleLeader, role)
	require.Equal(t, corestate.RoleLeader, n.State().Role())
}

func TestConnectElectsFollowerOnLowerBattery(t *testing.T) {
	n, _ := newTestNode(t)
	role := n.Connect(95, time.Now())
	require.Equal(t, corestate.RoleFollower, role)
}

func TestDisconnectSetsDisconnectedPhase(t *testing.T) {
	n, _ := newTestNode(t)
	n.Connect(40, time.Now())
	n.Disconnect(time.Now())
	require.Equal(t, corestate.ConnDisconnected, n.State().ConnectionState().Phase)
}

func TestOnInboundEnqueuesUpToQueueDepth(t *testing.T) {
	n, _ := newTestNode(t)
	for i := 0; i < common.QueueDepth; i++ {
		n.OnInbound(ports.InboundMessage{Bytes: []byte{byte(i)}})
	}
	require.Len(t, n.inbound, common.QueueDepth)
}

func TestOnInboundDropsNewestWhenQueueFull(t *testing.T) {
	n, _ := newTestNode(t)
	for i := 0; i < common.QueueDepth; i++ {
		n.OnInbound(ports.InboundMessage{Bytes: []byte{byte(i)}})
	}
	// One more past capacity must be dropped, not block, and not evict
	// an already-queued frame.
	n.OnInbound(ports.InboundMessage{Bytes: []byte{0xFF}})
	require.Len(t, n.inbound, common.QueueDepth)

	first := <-n.inbound
	require.Equal(t, byte(0), first.Bytes[0], "the oldest enqueued frame should still be first out")
}

func TestProposeModeChangeArmsLeaderSideAndReturnsFrame(t *testing.T) {
	n, _ := newTestNode(t)
	n.Connect(40, time.Now()) // higher battery -> Leader

	frame := n.ProposeModeChange(1_000_000, 1, 3000, 900)
	require.NotEmpty(t, frame)
	require.True(t, n.State().ArmedChange().Armed)
}

func TestRunResetsWatchdogEveryCoordinationIteration(t *testing.T) {
	watchdog := &fakeWatchdog{}
	wallClock := clock.NewFakeClock()
	cfg := config.NewConfig(testlogger.New(t), config.WithClock(wallClock))
	n := New(cfg, Deps{
		Transport: &fakeTransport{},
		Clock:     &fakeClock{},
		Battery:   fakeBattery{80},
		Identity:  fakeIdentity{common.NodeID{1}, common.NodeID{2}},
		Watchdog:  watchdog,
		Actuator:  &fakeActuator{},
	})
	n.Connect(40, time.Now())

	n.Run(context.Background())

	// Both the coordination thread's poll timeout and the pattern thread's
	// ticker register against wallClock; wait for both before advancing it
	// so the coordination loop's iteration is driven deterministically
	// rather than racing a real sleep.
	wallClock.BlockUntil(2)
	wallClock.Advance(common.CoordinationLoopPollTimeout)

	require.Eventually(t, func() bool {
		return watchdog.resets > 0
	}, time.Second, time.Millisecond, "coordination loop must feed the watchdog on every iteration")

	require.NoError(t, n.Close())
}

func TestConnectActivatesInitialPatternEpochForLeader(t *testing.T) {
	n, _ := newTestNode(t)
	role := n.Connect(40, time.Now()) // higher battery -> Leader
	require.Equal(t, corestate.RoleLeader, role)

	pe := n.State().PatternEpoch()
	require.True(t, pe.Valid, "Leader must activate its first Pattern Epoch on election")
	require.Equal(t, n.cfg.InitialPeriodMs(), pe.PeriodMs)
	require.Equal(t, n.cfg.InitialDutyPct(), pe.DutyPct)
	require.Equal(t, n.cfg.DefaultMode(), pe.ModeID)
}

func TestConnectDoesNotActivatePatternEpochForFollower(t *testing.T) {
	n, _ := newTestNode(t)
	role := n.Connect(95, time.Now()) // lower battery -> Follower
	require.Equal(t, corestate.RoleFollower, role)
	require.False(t, n.State().PatternEpoch().Valid, "Follower has no epoch of its own until it mirrors a Beacon")
}

func TestConnectPreservesExistingEpochOnReconnectAsLeader(t *testing.T) {
	n, _ := newTestNode(t)
	n.Connect(40, time.Now())
	preserved := n.State().PatternEpoch()
	require.True(t, preserved.Valid)

	// A later reconnect as Leader must not clobber an already-installed epoch.
	n.Connect(40, time.Now())
	require.Equal(t, preserved, n.State().PatternEpoch())
}

func TestConnectFlushesBufferedTimeRequestOnceRoleElected(t *testing.T) {
	n, transport := newTestNode(t)

	msg := ports.InboundMessage{
		Bytes:    wire.Encode(0, wire.TimeRequest{T1: 100}),
		RxMicros: 500,
	}
	require.NoError(t, n.router.Dispatch(context.Background(), msg))
	require.Empty(t, transport.sent, "a TimeRequest arriving before role election must be buffered, not answered")

	role := n.Connect(40, time.Now()) // higher battery -> Leader
	require.Equal(t, corestate.RoleLeader, role)

	require.Len(t, transport.sent, 1, "Connect must flush the buffered TimeRequest once role election completes")
}

func TestStatusReflectsStateAfterConnect(t *testing.T) {
	n, _ := newTestNode(t)
	n.Connect(40, time.Now()) // higher battery -> Leader

	status := n.Status()
	require.Equal(t, "Leader", status.Role)
	require.True(t, status.EpochValid)
	require.Equal(t, n.cfg.InitialPeriodMs(), status.PeriodMs)
	require.Equal(t, n.cfg.InitialDutyPct(), status.DutyPct)
	require.Equal(t, n.cfg.DefaultMode(), status.ModeID)
	require.False(t, status.HandshakeComplete, "Leader side never completes the handshake it doesn't initiate")
	require.Equal(t, 0, status.SyncFailures)
}

func TestCoordinationLoopDispatchesInboundHandshakeRequest(t *testing.T) {
	n, transport := newTestNode(t)
	n.Connect(40, time.Now()) // Leader

	n.OnInbound(ports.InboundMessage{
		Bytes:    wire.Encode(0, wire.TimeRequest{T1: 100}),
		RxMicros: 500,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	n.Run(ctx)

	require.Eventually(t, func() bool {
		return len(transport.sent) > 0
	}, 250*time.Millisecond, 5*time.Millisecond, "leader should answer the buffered time request")

	require.NoError(t, n.Close())
}

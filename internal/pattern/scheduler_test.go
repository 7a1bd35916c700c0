package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lemonforest/biphase/common"
	"github.com/lemonforest/biphase/common/testlogger"
	"github.com/lemonforest/biphase/internal/corestate"
	"github.com/lemonforest/biphase/internal/ports"
	"github.com/lemonforest/biphase/internal/syncengine"
	"github.com/lemonforest/biphase/internal/wire"
)

type fakeActuator struct {
	calls []call
}

type call struct {
	state     ports.ActuatorState
	direction ports.ActuatorDirection
	intensity uint8
}

func (f *fakeActuator) Command(state ports.ActuatorState, direction ports.ActuatorDirection, intensityPct uint8) {
	f.calls = append(f.calls, call{state, direction, intensityPct})
}

func (f *fakeActuator) last() call {
	return f.calls[len(f.calls)-1]
}

func newTestScheduler(t *testing.T) (*Scheduler, *corestate.State, *syncengine.Engine, *fakeActuator) {
	s := corestate.New(testlogger.New(t), 100*time.Millisecond)
	e := syncengine.New(testlogger.New(t), s)
	a := &fakeActuator{}
	return New(testlogger.New(t), s, e, a), s, e, a
}

func TestLeaderActivatesWithinDutyWindow(t *testing.T) {
	sched, state, _, act := newTestScheduler(t)
	state.SetRole(corestate.RoleLeader)
	state.SetPatternEpoch(corestate.PatternEpoch{Valid: true, EpochUs: 0, PeriodMs: 2000, DutyPct: 50, ModeID: 0})

	// period=2000ms, duty=50%: active window is (p/2)*(duty/100) = 500ms.
	_, ok := sched.Tick(100_000) // 100ms into cycle, inside window
	require.False(t, ok, "Leader never emits ActivationReport")
	require.Equal(t, ports.ActuatorActive, act.last().state)

	_, ok = sched.Tick(600_000) // 600ms into cycle, outside window
	require.False(t, ok)
	require.Equal(t, ports.ActuatorInactive, act.last().state)
}

func TestPatternEpochInvalidHaltsActivation(t *testing.T) {
	sched, state, _, act := newTestScheduler(t)
	state.SetRole(corestate.RoleLeader)

	_, ok := sched.Tick(100_000)
	require.False(t, ok)
	require.Equal(t, ports.ActuatorInactive, act.last().state)
}

func TestFollowerGatedUntilAntiphaseLock(t *testing.T) {
	sched, state, _, act := newTestScheduler(t)
	state.SetRole(corestate.RoleFollower)
	state.SetPatternEpoch(corestate.PatternEpoch{Valid: true, EpochUs: 0, PeriodMs: 2000, DutyPct: 50, ModeID: 0})

	_, ok := sched.Tick(100_000)
	require.False(t, ok)
	require.Equal(t, ports.ActuatorInactive, act.last().state)
}

func lockEngine(t *testing.T, state *corestate.State, engine *syncengine.Engine) {
	engine.BeginHandshake(0)
	resp := wire.TimeResponse{T1: 0, T2: 10, T3: 20}
	require.NoError(t, engine.HandleTimeResponse(resp, 30, time.Now()))

	for i := 0; i < common.SteadyStateSampleCount; i++ {
		state.RecordBeaconSample(0, time.Now())
	}

	b1 := wire.NewBeacon(1_000_000, 0, 2000, 50, 0, 1)
	require.NoError(t, engine.HandleBeacon(b1, 1_000_050, time.Now()))
	b2 := wire.NewBeacon(1_000_200, 0, 2000, 50, 0, 2)
	require.NoError(t, engine.HandleBeacon(b2, 1_000_250, time.Now()))
}

func TestFollowerEmitsActivationReportOnTransition(t *testing.T) {
	sched, state, engine, act := newTestScheduler(t)
	state.SetRole(corestate.RoleFollower)
	lockEngine(t, state, engine)
	require.True(t, engine.AntiphaseLocked(1_000_300))

	// Follower phase offset is p/2 = 1000ms; pos starts fresh right at the
	// antiphase crossing, so the very next tick after lock lands inside the
	// active window and should emit a report.
	_, ok := sched.Tick(1_000_300)
	require.True(t, ok)
	require.Equal(t, ports.ActuatorActive, act.last().state)
}

func TestModeChangeInstallsAtEffectiveCrossing(t *testing.T) {
	sched, state, _, _ := newTestScheduler(t)
	state.SetRole(corestate.RoleLeader)
	state.SetPatternEpoch(corestate.PatternEpoch{Valid: true, EpochUs: 0, PeriodMs: 2000, DutyPct: 50, ModeID: 0})
	state.SetArmedChange(corestate.ArmedModeChange{
		Armed:             true,
		NewMode:           1,
		NewPeriodMs:       4000,
		NewActiveMs:       1000,
		LeaderEffectiveUs: 5_000_000,
		FollowerEffective: 6_000_000,
	})

	sched.Tick(4_000_000)
	pe := state.PatternEpoch()
	require.Equal(t, uint32(2000), pe.PeriodMs, "not yet due")
	require.True(t, state.ArmedChange().Armed)

	sched.Tick(5_000_000)
	pe = state.PatternEpoch()
	require.Equal(t, uint32(4000), pe.PeriodMs, "installed at leader_effective")
	require.Equal(t, uint8(1), pe.ModeID)
	require.Equal(t, int64(5_000_000), pe.EpochUs)
	require.False(t, state.ArmedChange().Armed)
}

func TestCycleParityAlternatesDirection(t *testing.T) {
	sched, state, _, act := newTestScheduler(t)
	state.SetRole(corestate.RoleLeader)
	state.SetPatternEpoch(corestate.PatternEpoch{Valid: true, EpochUs: 0, PeriodMs: 2000, DutyPct: 50, ModeID: 0})

	sched.Tick(100_000) // cycle 0
	require.Equal(t, ports.DirectionForward, act.last().direction)

	sched.Tick(2_100_000) // cycle 1
	require.Equal(t, ports.DirectionReverse, act.last().direction)
}

// Package pattern implements the Pattern Scheduler component (spec.md
// §4.3): the "sheet music" model in which both nodes independently compute
// actuator activation from the shared Pattern Epoch, with the Follower
// offset into antiphase, plus the poll-driven install of a committed mode
// change at its effective crossing.
package pattern

import (
	"sync"
	"time"

	"github.com/lemonforest/biphase/common"
	"github.com/lemonforest/biphase/common/log"
	"github.com/lemonforest/biphase/internal/corestate"
	"github.com/lemonforest/biphase/internal/ports"
	"github.com/lemonforest/biphase/internal/syncengine"
	"github.com/lemonforest/biphase/internal/telemetry"
	"github.com/lemonforest/biphase/internal/wire"
)

// Scheduler evaluates the activation waveform on every tick and drives the
// actuator port. The same type serves both roles; which role's phase offset
// and reporting behavior applies is read fresh from corestate on every tick,
// so a role swap takes effect on the next tick with no separate wiring.
type Scheduler struct {
	log      log.Logger
	state    *corestate.State
	engine   *syncengine.Engine
	actuator ports.Actuator

	mu               sync.Mutex
	active           bool
	lastCycle        uint64
	hasLastCycle     bool
	waitingForLock   bool
	lockWaitStartUs  int64
	lockFailedLogged bool
	lockAcquired     bool
}

// New builds a Scheduler bound to the given shared state, sync engine, and
// actuator port.
func New(l log.Logger, state *corestate.State, engine *syncengine.Engine, actuator ports.Actuator) *Scheduler {
	return &Scheduler{log: l, state: state, engine: engine, actuator: actuator}
}

// Tick evaluates the waveform at nowUs and drives the actuator accordingly.
// It also installs any armed mode change whose effective time has crossed,
// and (Follower only) returns an ActivationReport to send whenever an
// ACTIVE transition is detected, with ok=false otherwise.
func (s *Scheduler) Tick(nowUs int64) (report wire.ActivationReport, ok bool) {
	role := s.state.Role()
	s.installArmedChangeIfDue(role, nowUs)

	pe := s.state.PatternEpoch()
	if !pe.Valid || pe.PeriodMs == 0 {
		s.commandInactive()
		return wire.ActivationReport{}, false
	}

	if role == corestate.RoleFollower && !s.waitForAntiphaseLock(nowUs) {
		s.commandInactive()
		return wire.ActivationReport{}, false
	}

	tsync := s.engine.GetSyncTime(nowUs, role)
	periodUs := int64(pe.PeriodMs) * 1000

	var rolePhaseUs int64
	if role == corestate.RoleFollower {
		rolePhaseUs = periodUs / 2
	}

	pos := ((tsync - pe.EpochUs - rolePhaseUs) % periodUs + periodUs) % periodUs
	activeThresholdUs := (periodUs / 2) * int64(pe.DutyPct) / 100
	isActive := pos < activeThresholdUs

	cycle := uint64(0)
	if tsync > pe.EpochUs {
		cycle = uint64((tsync - pe.EpochUs) / periodUs)
	}

	s.mu.Lock()
	wasActive := s.active
	s.active = isActive
	justActivated := isActive && !wasActive
	var emitCycle uint64
	shouldEmit := false
	if justActivated && (!s.hasLastCycle || cycle != s.lastCycle) {
		emitCycle = cycle
		s.hasLastCycle = true
		s.lastCycle = cycle
		shouldEmit = true
	}
	s.mu.Unlock()

	direction := ports.DirectionForward
	if cycle%2 == 1 {
		direction = ports.DirectionReverse
	}

	if isActive {
		s.actuator.Command(ports.ActuatorActive, direction, pe.DutyPct)
	} else {
		s.actuator.Command(ports.ActuatorInactive, direction, 0)
	}

	if shouldEmit {
		telemetry.ActivationCycles.Inc()
	}

	if !shouldEmit || role != corestate.RoleFollower {
		return wire.ActivationReport{}, false
	}

	targetTimeSync := pe.EpochUs + rolePhaseUs + int64(emitCycle)*periodUs
	errorMs := float64(tsync-targetTimeSync) / 1000.0
	telemetry.ActivationErrorMs.Set(errorMs)
	s.engine.RecordActivationFeedback(errorMs)

	beaconT1, beaconT2, haveBeacon := s.engine.LastBeacon()
	report = wire.ActivationReport{
		ActualActiveTimeSync: uint64(tsync),
		TargetTimeSync:       uint64(targetTimeSync),
		MeasuredErrorMs:      int32(errorMs),
		Cycle:                uint32(emitCycle),
		ReportT3:             uint64(nowUs),
	}
	if haveBeacon {
		report.BeaconT1 = uint64(beaconT1)
		report.BeaconT2 = uint64(beaconT2)
	}
	return report, true
}

// commandInactive drives the actuator to its off state without disturbing
// the cycle/active bookkeeping (used whenever activation is gated off).
func (s *Scheduler) commandInactive() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	s.actuator.Command(ports.ActuatorInactive, ports.DirectionForward, 0)
}

// waitForAntiphaseLock is the Follower's bounded wait for antiphase lock
// before actuation may begin (spec.md §4.3): once acquired, subsequent
// loss of freshness does not re-gate activation, since the same safety
// margin that governs handshake retries already covers the disconnected
// case via the Role Elector's epoch invalidation.
func (s *Scheduler) waitForAntiphaseLock(nowUs int64) bool {
	s.mu.Lock()
	acquired := s.lockAcquired
	s.mu.Unlock()
	if acquired {
		return true
	}

	if s.engine.AntiphaseLocked(nowUs) {
		s.mu.Lock()
		s.lockAcquired = true
		s.waitingForLock = false
		s.lockFailedLogged = false
		s.mu.Unlock()
		telemetry.AntiphaseLocked.Set(1)
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waitingForLock {
		s.waitingForLock = true
		s.lockWaitStartUs = nowUs
		s.lockFailedLogged = false
	}
	telemetry.AntiphaseLocked.Set(0)

	elapsed := time.Duration(nowUs-s.lockWaitStartUs) * time.Microsecond
	if elapsed > common.AntiphaseLockTimeout && !s.lockFailedLogged {
		s.lockFailedLogged = true
		s.log.Warnw("antiphase lock not acquired within bound, holding actuation off",
			"elapsed", elapsed)
	}
	return false
}

// installArmedChangeIfDue atomically installs a committed mode change once
// this node's own effective time has been reached (spec.md §4.4): the
// Pattern Scheduler, not Mode Commit, owns the crossing check since it
// already polls get_sync_time() every tick.
func (s *Scheduler) installArmedChangeIfDue(role corestate.Role, nowUs int64) {
	armed := s.state.ArmedChange()
	if !armed.Armed {
		return
	}

	myEffectiveUs := armed.FollowerEffective
	if role == corestate.RoleLeader {
		myEffectiveUs = armed.LeaderEffectiveUs
	}

	tsync := s.engine.GetSyncTime(nowUs, role)
	if tsync < myEffectiveUs {
		return
	}

	dutyPct := uint8(0)
	if armed.NewPeriodMs > 0 {
		duty := armed.NewActiveMs * 200 / armed.NewPeriodMs
		if duty > 100 {
			duty = 100
		}
		dutyPct = uint8(duty)
	}

	s.state.SetPatternEpoch(corestate.PatternEpoch{
		Valid:    true,
		EpochUs:  myEffectiveUs,
		PeriodMs: armed.NewPeriodMs,
		DutyPct:  dutyPct,
		ModeID:   armed.NewMode,
	})
	s.state.ClearArmedChange()
	s.engine.OnModeChange()

	s.mu.Lock()
	s.hasLastCycle = false
	s.mu.Unlock()

	s.log.Infow("mode change installed", "mode", armed.NewMode, "periodMs", armed.NewPeriodMs, "effectiveUs", myEffectiveUs)
}

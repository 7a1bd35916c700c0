// Package corestate holds the single owning struct for the state the
// coordination subsystem exclusively owns (spec.md §3): Clock Offset, Sync
// Filter State, Pattern Epoch, Armed Mode Change, and Connection State.
// Each field has exactly one writer component; every other reader goes
// through a guarded, bounded-timeout accessor that never blocks
// indefinitely and never panics (spec.md §5).
package corestate

import (
	"time"

	"github.com/lemonforest/biphase/common"
	"github.com/lemonforest/biphase/common/log"
	"github.com/lemonforest/biphase/internal/telemetry"
)

// State is the single struct owning all cross-component shared state. It
// replaces the process-wide singleton + mutex-guarded-accessor pattern
// (spec.md §9 redesign notes) with one struct passed by reference.
type State struct {
	log     log.Logger
	timeout time.Duration

	role            *guarded[Role]
	connectionState *guarded[ConnectionState]
	clockOffsetUs   *guarded[int64]
	syncFilter      *guarded[SyncFilterState]
	patternEpoch    *guarded[PatternEpoch]
	armedChange     *guarded[ArmedModeChange]
}

// New builds a State with all fields at their zero/initial values:
// Unassigned role, Idle connection, zero offset, empty fast-attack filter,
// invalid epoch, no armed change.
func New(l log.Logger, lockTimeout time.Duration) *State {
	return &State{
		log:             l,
		timeout:         lockTimeout,
		role:            newGuarded(RoleUnassigned),
		connectionState: newGuarded(ConnectionState{Phase: ConnIdle}),
		clockOffsetUs:   newGuarded(int64(0)),
		syncFilter:      newGuarded(SyncFilterState{Mode: FilterFastAttack}),
		patternEpoch:    newGuarded(PatternEpoch{}),
		armedChange:     newGuarded(ArmedModeChange{}),
	}
}

func (s *State) warnContention(field string) {
	s.log.Warnw("possible deadlock: lock acquisition timed out", "field", field, "timeout", s.timeout)
	telemetry.LockTimeouts.WithLabelValues(field).Inc()
}

// Role returns the current role, or RoleUnassigned on lock contention.
func (s *State) Role() Role {
	v, ok := s.role.Get(s.timeout)
	if !ok {
		s.warnContention("role")
		return RoleUnassigned
	}
	return v
}

// SetRole installs a new role. Only the Role Elector should call this.
func (s *State) SetRole(r Role) {
	if !s.role.Set(s.timeout, r) {
		s.warnContention("role")
	}
}

// ConnectionState returns the current connection phase and (if
// disconnected) when the disconnect began. Returns the Idle zero value on
// contention.
func (s *State) ConnectionState() ConnectionState {
	v, ok := s.connectionState.Get(s.timeout)
	if !ok {
		s.warnContention("connectionState")
		return ConnectionState{}
	}
	return v
}

// SetConnectionState installs a new connection state. Only the Role
// Elector should call this.
func (s *State) SetConnectionState(cs ConnectionState) {
	if !s.connectionState.Set(s.timeout, cs) {
		s.warnContention("connectionState")
	}
}

// ClockOffsetUs returns the current filtered clock offset in microseconds
// (local - leader). Returns 0 on contention, matching the "safe default"
// disposition for Leader (whose true offset is always 0).
func (s *State) ClockOffsetUs() int64 {
	v, ok := s.clockOffsetUs.Get(s.timeout)
	if !ok {
		s.warnContention("clockOffsetUs")
		return 0
	}
	return v
}

// SetClockOffsetUs installs a new offset. Only the Sync Engine should call this.
func (s *State) SetClockOffsetUs(offsetUs int64) {
	if !s.clockOffsetUs.Set(s.timeout, offsetUs) {
		s.warnContention("clockOffsetUs")
	}
}

// SyncFilter returns a snapshot of the Sync Filter State. Returns the zero
// value (FastAttack, empty ring) on contention.
func (s *State) SyncFilter() SyncFilterState {
	v, ok := s.syncFilter.Get(s.timeout)
	if !ok {
		s.warnContention("syncFilter")
		return SyncFilterState{}
	}
	return v
}

// UpdateSyncFilter atomically applies fn to the Sync Filter State. Only the
// Sync Engine should call this. Returns false if the lock timed out, in
// which case the update was not applied.
func (s *State) UpdateSyncFilter(fn func(SyncFilterState) SyncFilterState) bool {
	ok := s.syncFilter.Update(s.timeout, fn)
	if !ok {
		s.warnContention("syncFilter")
	}
	return ok
}

// PatternEpoch returns a snapshot of the Pattern Epoch. Returns an invalid
// zero epoch on contention, which halts activation just like a genuinely
// invalidated epoch would.
func (s *State) PatternEpoch() PatternEpoch {
	v, ok := s.patternEpoch.Get(s.timeout)
	if !ok {
		s.warnContention("patternEpoch")
		return PatternEpoch{}
	}
	return v
}

// SetPatternEpoch installs a new Pattern Epoch. Only the Leader-side Sync
// Engine / Mode Commit, or the Follower's handshake/beacon install path,
// should call this.
func (s *State) SetPatternEpoch(e PatternEpoch) {
	if !s.patternEpoch.Set(s.timeout, e) {
		s.warnContention("patternEpoch")
	}
}

// InvalidatePatternEpoch clears the epoch's Valid flag, halting activation
// until a new epoch is installed (spec.md §4.1 Failure, §7).
func (s *State) InvalidatePatternEpoch() {
	if !s.patternEpoch.Update(s.timeout, func(e PatternEpoch) PatternEpoch {
		e.Valid = false
		return e
	}) {
		s.warnContention("patternEpoch")
	}
}

// ArmedChange returns a snapshot of the Armed Mode Change. Returns the
// unarmed zero value on contention.
func (s *State) ArmedChange() ArmedModeChange {
	v, ok := s.armedChange.Get(s.timeout)
	if !ok {
		s.warnContention("armedChange")
		return ArmedModeChange{}
	}
	return v
}

// SetArmedChange installs a new Armed Mode Change. Only Mode Commit should
// call this.
func (s *State) SetArmedChange(c ArmedModeChange) {
	if !s.armedChange.Set(s.timeout, c) {
		s.warnContention("armedChange")
	}
}

// ClearArmedChange removes any pending mode change, either because the
// effective epoch was crossed or the proposal was rejected.
func (s *State) ClearArmedChange() {
	s.SetArmedChange(ArmedModeChange{})
}

// RecordBeaconSample folds a new raw sample into the Sync Filter, applying
// the outlier-rejection and EMA-update rules (spec.md §4.2). It returns the
// resulting filter state and whether the sample was accepted.
func (s *State) RecordBeaconSample(rawOffsetUs int64, now time.Time) (SyncFilterState, bool) {
	var accepted bool
	s.UpdateSyncFilter(func(f SyncFilterState) SyncFilterState {
		accepted = applySample(&f, rawOffsetUs, now)
		return f
	})
	updated := s.SyncFilter()
	return updated, accepted
}

// applySample mutates f in place per the EMA filter rules and returns
// whether the sample was accepted. Factored out of RecordBeaconSample so
// it can be unit tested without going through the guarded accessor.
func applySample(f *SyncFilterState, rawOffsetUs int64, now time.Time) bool {
	threshold := common.FastAttackOutlierThreshold
	alpha := common.FastAttackAlpha
	if f.Mode == FilterSteadyState {
		threshold = common.SteadyStateOutlierThreshold
		alpha = common.SteadyStateAlpha
	}

	deviation := rawOffsetUs - f.FilteredOffsetUs
	if deviation < 0 {
		deviation = -deviation
	}
	deviationDur := time.Duration(deviation) * time.Microsecond

	if f.AcceptedCount > 0 && deviationDur > threshold {
		f.OutlierCount++
		f.pushSample(RawSample{RawOffsetUs: rawOffsetUs, Accepted: false, ObservedAt: now})
		return false
	}

	f.FilteredOffsetUs = int64(alpha*float64(rawOffsetUs) + (1-alpha)*float64(f.FilteredOffsetUs))
	f.AcceptedCount++
	f.pushSample(RawSample{RawOffsetUs: rawOffsetUs, Accepted: true, ObservedAt: now})

	if deviationDur <= common.StabilizationBand {
		f.ConsecutiveStable++
	} else {
		f.ConsecutiveStable = 0
	}

	if f.Mode == FilterFastAttack &&
		(f.AcceptedCount >= common.SteadyStateSampleCount || f.ConsecutiveStable >= common.StabilizationWindow) {
		f.Mode = FilterSteadyState
	}

	return true
}

// ResetToFastAttack restarts the filter's convergence counters while
// keeping the current estimate, per a mode change (spec.md §4.2).
func (s *State) ResetToFastAttack() {
	s.UpdateSyncFilter(func(f SyncFilterState) SyncFilterState {
		f.Mode = FilterFastAttack
		f.AcceptedCount = 0
		f.OutlierCount = 0
		f.ConsecutiveStable = 0
		return f
	})
}

// BootstrapFilter seeds the filter from a handshake-derived offset,
// marking the first sample as accepted (spec.md §4.2 Phase 1).
func (s *State) BootstrapFilter(offsetUs int64, now time.Time) {
	s.UpdateSyncFilter(func(f SyncFilterState) SyncFilterState {
		f.FilteredOffsetUs = offsetUs
		f.AcceptedCount = 1
		f.Mode = FilterFastAttack
		f.pushSample(RawSample{RawOffsetUs: offsetUs, Accepted: true, ObservedAt: now})
		return f
	})
}

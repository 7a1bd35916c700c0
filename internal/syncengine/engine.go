// Package syncengine implements the Sync Engine component (spec.md §4.2):
// the PTP/NTP-style handshake, periodic one-way beacons, and the
// EMA-filtered offset estimate that lets the Follower compute the
// Leader's clock to sub-millisecond accuracy.
package syncengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lemonforest/biphase/common"
	"github.com/lemonforest/biphase/common/log"
	"github.com/lemonforest/biphase/internal/corestate"
	"github.com/lemonforest/biphase/internal/telemetry"
	"github.com/lemonforest/biphase/internal/wire"
)

// Phase is the Sync Engine's state machine (spec.md §4.2):
// Init -> Connected -> Synced <-> DriftDetected; Synced -> Disconnected -> Synced.
type Phase uint8

const (
	PhaseInit Phase = iota
	PhaseConnected
	PhaseSynced
	PhaseDriftDetected
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseConnected:
		return "Connected"
	case PhaseSynced:
		return "Synced"
	case PhaseDriftDetected:
		return "DriftDetected"
	case PhaseDisconnected:
		return "Disconnected"
	default:
		return "Init"
	}
}

// Engine owns the handshake, beacon, and filter logic for one node. The
// same type serves both roles: the Leader answers handshakes
// (HandleTimeRequest) and builds beacons (BuildBeacon), the Follower starts
// handshakes (BeginHandshake) and ingests responses and beacons
// (HandleTimeResponse, HandleBeacon); both share the state machine and
// corestate.
type Engine struct {
	log   log.Logger
	state *corestate.State
	pacer *BeaconPacer

	mu                  sync.Mutex
	phase               Phase
	handshakeComplete   bool
	handshakeAttempts   int
	pendingT1Us         int64
	hasPendingHandshake bool
	handshakeCorrID     string

	hasLastBeaconRx        bool
	lastBeaconRxUs         int64
	lastBeaconLeaderTimeUs int64
	observedBeaconGap      time.Duration
	beaconSequence         uint8
	syncFailures           int
}

// New builds an Engine bound to the given shared state.
func New(l log.Logger, state *corestate.State) *Engine {
	return &Engine{
		log:   l,
		state: state,
		pacer: NewBeaconPacer(),
		phase: PhaseInit,
	}
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// Phase returns the current state machine phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// HandshakeComplete reports whether Phase 1 has succeeded at least once.
func (e *Engine) HandshakeComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handshakeComplete
}

// HandshakeAttempts returns the number of BeginHandshake calls made since
// the last success, for bounding retries (spec.md §5: "bounded (<=3)").
func (e *Engine) HandshakeAttempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handshakeAttempts
}

// BeginHandshake starts (or retries) Phase 1 from the Follower side,
// recording T1 and returning the request to send. Each attempt gets a fresh
// correlation id so its eventual accept/reject log line can be tied back to
// this send without carrying anything extra over the wire.
func (e *Engine) BeginHandshake(nowUs int64) wire.TimeRequest {
	corrID := uuid.NewString()
	e.mu.Lock()
	e.pendingT1Us = nowUs
	e.hasPendingHandshake = true
	e.handshakeAttempts++
	e.handshakeCorrID = corrID
	e.mu.Unlock()
	e.setPhase(PhaseConnected)
	e.log.Debugw("handshake attempt sent", "correlation_id", corrID, "attempt", e.HandshakeAttempts())
	return wire.TimeRequest{T1: uint64(nowUs)}
}

// HandshakeCorrelationID returns the diagnostic id tagging the current or
// most recently completed handshake attempt, for correlating its send and
// accept/reject log lines.
func (e *Engine) HandshakeCorrelationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handshakeCorrID
}

// SyncFailures returns the count of beacons rejected for checksum mismatch,
// for the local control surface's status snapshot.
func (e *Engine) SyncFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncFailures
}

// HandleTimeRequest answers a Follower's TimeRequest from the Leader side.
// t2Us is the receipt time, t3Us the time just before the reply is sent.
func (e *Engine) HandleTimeRequest(req wire.TimeRequest, t2Us, t3Us int64, pe corestate.PatternEpoch) wire.TimeResponse {
	resp := wire.TimeResponse{
		T1: req.T1,
		T2: uint64(t2Us),
		T3: uint64(t3Us),
	}
	if pe.Valid {
		resp.CurrentEpochUs = uint64(pe.EpochUs)
		resp.CurrentPeriod = pe.PeriodMs
	}
	return resp
}

// HandleTimeResponse completes Phase 1 from the Follower side: computes
// offset and RTT against the pending T1, validates plausibility, and on
// success bootstraps the filter and installs the Pattern Epoch if the
// Leader already has one (spec.md §4.2 Phase 1).
func (e *Engine) HandleTimeResponse(resp wire.TimeResponse, t4Us int64, now time.Time) error {
	e.mu.Lock()
	if !e.hasPendingHandshake {
		e.mu.Unlock()
		return fmt.Errorf("syncengine: no pending handshake")
	}
	t1 := int64(resp.T1)
	t2 := int64(resp.T2)
	t3 := int64(resp.T3)
	corrID := e.handshakeCorrID
	e.mu.Unlock()

	offset := ((t2 - t1) + (t3 - t4Us)) / 2
	rtt := (t4Us - t1) - (t3 - t2)
	rttDur := time.Duration(rtt) * time.Microsecond

	if rttDur < common.MinHandshakeRTT || rttDur > common.MaxHandshakeRTT {
		telemetry.HandshakeAttempts.WithLabelValues("rejected").Inc()
		e.log.Debugw("handshake attempt rejected", "correlation_id", corrID, "rtt", rttDur)
		return common.ErrImplausibleRTT
	}

	e.mu.Lock()
	e.handshakeComplete = true
	e.handshakeAttempts = 0
	e.hasPendingHandshake = false
	e.mu.Unlock()

	e.state.BootstrapFilter(offset, now)
	e.setPhase(PhaseSynced)
	telemetry.HandshakeAttempts.WithLabelValues("accepted").Inc()
	telemetry.ClockOffsetMicros.Set(float64(offset))
	e.log.Debugw("handshake attempt accepted", "correlation_id", corrID, "offset_us", offset, "rtt", rttDur)

	if resp.CurrentEpochUs > 0 {
		e.state.SetPatternEpoch(corestate.PatternEpoch{
			Valid:    true,
			EpochUs:  int64(resp.CurrentEpochUs),
			PeriodMs: resp.CurrentPeriod,
		})
	}
	return nil
}

// BuildBeacon constructs the next Beacon to send from the Leader side, if
// the adaptive pacing interval has elapsed. ok is false when it is not
// yet time to send.
func (e *Engine) BuildBeacon(nowUs int64, pe corestate.PatternEpoch) (b wire.Beacon, ok bool) {
	if !pe.Valid || pe.PeriodMs == 0 {
		return wire.Beacon{}, false
	}
	if !e.pacer.Due(nowUs) {
		return wire.Beacon{}, false
	}
	e.mu.Lock()
	e.beaconSequence++
	seq := e.beaconSequence
	e.mu.Unlock()

	periodMs := pe.PeriodMs
	duty := pe.DutyPct
	modeID := pe.ModeID
	return wire.NewBeacon(uint64(nowUs), uint64(pe.EpochUs), periodMs, duty, modeID, seq), true
}

// RecordBeaconSent marks the beacon as sent for pacing purposes.
func (e *Engine) RecordBeaconSent(nowUs int64) {
	e.pacer.RecordSent(nowUs)
	telemetry.BeaconIntervalMs.Set(float64(e.pacer.Interval().Milliseconds()))
}

// RecordActivationFeedback folds a Follower's ActivationReport error into
// the Leader's beacon pacer (spec.md §4.2 "Beacon-send pacing", §4.3).
func (e *Engine) RecordActivationFeedback(measuredErrorMs float64) {
	e.pacer.RecordFeedback(measuredErrorMs)
}

// HandleBeacon processes a received Beacon from the Follower side: verifies
// the checksum, computes the raw offset sample, folds it into the filter,
// mirrors the Pattern Epoch, and updates beacon-freshness bookkeeping.
func (e *Engine) HandleBeacon(b wire.Beacon, rxUs int64, now time.Time) error {
	if !b.ValidCRC() {
		telemetry.SyncFailures.Inc()
		e.mu.Lock()
		e.syncFailures++
		e.mu.Unlock()
		return common.ErrChecksumMismatch
	}

	raw := rxUs - int64(b.LeaderTimeUs)
	_, accepted := e.state.RecordBeaconSample(raw, now)
	if !accepted {
		f := e.state.SyncFilter()
		telemetry.OutlierSamples.WithLabelValues(f.Mode.String()).Inc()
	} else {
		telemetry.ClockOffsetMicros.Set(float64(e.state.SyncFilter().FilteredOffsetUs))
	}
	telemetry.FilterMode.Set(float64(e.state.SyncFilter().Mode))

	e.state.SetPatternEpoch(corestate.PatternEpoch{
		Valid:    true,
		EpochUs:  int64(b.EpochUs),
		PeriodMs: b.PeriodMs,
		DutyPct:  b.DutyPercent,
		ModeID:   b.ModeID,
	})

	e.mu.Lock()
	if e.hasLastBeaconRx {
		gap := time.Duration(rxUs-e.lastBeaconRxUs) * time.Microsecond
		if gap > 0 {
			e.observedBeaconGap = gap
		}
	}
	e.lastBeaconRxUs = rxUs
	e.lastBeaconLeaderTimeUs = int64(b.LeaderTimeUs)
	e.hasLastBeaconRx = true
	e.mu.Unlock()

	e.setPhase(PhaseSynced)
	return nil
}

// GetSyncTime returns the node's estimate of leader_time. For Leader this
// is simply the local clock; for Follower it is local minus the filtered
// offset. A would-be-negative result (boot race) clamps to 0
// (spec.md §4.2 "Time query").
func (e *Engine) GetSyncTime(localNowUs int64, role corestate.Role) int64 {
	if role == corestate.RoleLeader {
		return localNowUs
	}
	t := localNowUs - e.state.SyncFilter().FilteredOffsetUs
	if t < 0 {
		return 0
	}
	return t
}

// LastBeacon reports the leader-send and local-receive timestamps of the
// most recently accepted beacon, for building an ActivationReport's NTP
// four-timestamp fields. ok is false if no beacon has been received yet.
func (e *Engine) LastBeacon() (leaderTimeUs, rxUs int64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasLastBeaconRx {
		return 0, 0, false
	}
	return e.lastBeaconLeaderTimeUs, e.lastBeaconRxUs, true
}

// AntiphaseFresh reports whether the last beacon arrived within 2x the
// most recently observed inter-beacon gap, the freshness leg of antiphase
// lock (spec.md §4.3).
func (e *Engine) AntiphaseFresh(nowUs int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasLastBeaconRx || e.observedBeaconGap == 0 {
		return false
	}
	elapsed := time.Duration(nowUs-e.lastBeaconRxUs) * time.Microsecond
	return elapsed <= common.BeaconFreshnessMultiple*e.observedBeaconGap
}

// AntiphaseLocked is the full antiphase lock predicate: handshake
// complete, filter in steady state, and a fresh beacon (spec.md §4.3).
func (e *Engine) AntiphaseLocked(nowUs int64) bool {
	return e.HandshakeComplete() &&
		e.state.SyncFilter().Mode == corestate.FilterSteadyState &&
		e.AntiphaseFresh(nowUs)
}

// CheckDriftDetected evaluates whether the expected crystal drift since
// the last beacon has exceeded the detection threshold, entering
// DriftDetected and forcing the pacer back to the minimum interval
// (spec.md §4.2 "State machine").
func (e *Engine) CheckDriftDetected(nowUs int64) bool {
	e.mu.Lock()
	hasLast := e.hasLastBeaconRx
	lastRx := e.lastBeaconRxUs
	e.mu.Unlock()
	if !hasLast {
		return false
	}

	elapsedUs := nowUs - lastRx
	if elapsedUs <= 0 {
		return false
	}
	expectedDrift := time.Duration(elapsedUs*common.ExpectedCrystalDriftPPM/1_000_000) * time.Microsecond
	if expectedDrift <= common.DriftDetectedThreshold {
		return false
	}

	e.setPhase(PhaseDriftDetected)
	e.pacer.ResetToMinimum()
	e.log.Warnw("drift detected, forcing resync", "elapsedUs", elapsedUs)
	return true
}

// OnModeChange resets the filter to fast-attack and the pacer to the
// minimum interval, per a committed mode change (spec.md §4.2, §4.4).
func (e *Engine) OnModeChange() {
	e.state.ResetToFastAttack()
	e.pacer.ResetToMinimum()
}

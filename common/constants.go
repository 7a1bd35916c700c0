package common

import "time"

// Sync Engine tuning (spec.md §4.2).
const (
	// SyncFilterRingSize is N, the number of raw samples retained for diagnostics.
	SyncFilterRingSize = 8

	// SteadyStateSampleCount is the accepted-sample count after which the
	// filter leaves FastAttack, absent earlier stabilization.
	SteadyStateSampleCount = 12

	// StabilizationWindow is the number of consecutive samples that must
	// fall within StabilizationBand of the estimate to transition early.
	StabilizationWindow = 4

	// StabilizationBand is the tolerance for the early steady-state transition.
	StabilizationBand = 50 * time.Microsecond

	// FastAttackAlpha is the EMA weight on new samples while in FastAttack.
	FastAttackAlpha = 0.30
	// SteadyStateAlpha is the EMA weight on new samples once in SteadyState.
	SteadyStateAlpha = 0.10

	// FastAttackOutlierThreshold rejects samples farther than this from the
	// filtered estimate while in FastAttack.
	FastAttackOutlierThreshold = 50 * time.Millisecond
	// SteadyStateOutlierThreshold is the equivalent threshold once steady.
	SteadyStateOutlierThreshold = 100 * time.Millisecond

	// MinHandshakeRTT and MaxHandshakeRTT bound a plausible handshake RTT;
	// outside this range the sample is rejected (spec.md §4.2, §8).
	MinHandshakeRTT time.Duration = 0
	MaxHandshakeRTT                = 10 * time.Second

	// MaxHandshakeAttempts bounds retries of Phase 1 (spec.md §5).
	MaxHandshakeAttempts = 3

	// MinBeaconInterval and MaxBeaconInterval bound the Leader's adaptive
	// beacon-send pacing.
	MinBeaconInterval = 1 * time.Second
	MaxBeaconInterval = 60 * time.Second

	// GoodStreakLength is the number of consecutive low-error samples
	// required before the beacon interval doubles.
	GoodStreakLength = 3
	// GoodPredictionError is the per-sample error ceiling for a "good" sample.
	GoodPredictionError = 5 * time.Millisecond
	// PoorPredictionError is the per-sample error floor for a "poor" sample,
	// which resets the interval to MinBeaconInterval.
	PoorPredictionError = 15 * time.Millisecond

	// DriftDetectedThreshold is the expected-drift bound that, once exceeded
	// during a long inter-beacon gap, forces a resync.
	DriftDetectedThreshold = 50 * time.Millisecond

	// ExpectedCrystalDriftPPM bounds the assumed free-running clock drift,
	// used to project the offset's staleness bound between samples.
	ExpectedCrystalDriftPPM = 10
)

// Pattern Scheduler tuning (spec.md §4.3).
const (
	// TickInterval is the Pattern Scheduler's evaluation cadence.
	TickInterval = 10 * time.Millisecond

	// AntiphaseLockTimeout bounds how long the Follower waits for lock
	// before giving up gracefully.
	AntiphaseLockTimeout = 5 * time.Second

	// BeaconFreshnessMultiple is how many adaptive intervals may elapse
	// since the last beacon before antiphase lock is considered stale.
	BeaconFreshnessMultiple = 2

	// MaxPeriod is the largest period a Pattern Epoch may declare.
	MaxPeriod = 10 * time.Minute
)

// Mode Commit tuning (spec.md §4.4).
const (
	// ModeChangeSafetyMargin is added to now_sync to compute leader_effective,
	// chosen to exceed worst-case message delivery time.
	ModeChangeSafetyMargin = 2 * time.Second

	// ModeChangeEpochAlignmentTolerance is how closely leader_effective must
	// align to an integer multiple of the old period for the Follower to
	// accept a proposal.
	ModeChangeEpochAlignmentTolerance = 1 * time.Millisecond
)

// Role Elector / connection lifecycle tuning (spec.md §4.1).
const (
	// DisconnectInvalidationTimeout is the safety bound after which a
	// prolonged disconnect invalidates the Pattern Epoch.
	DisconnectInvalidationTimeout = 120 * time.Second
)

// Concurrency / resource model tuning (spec.md §5).
const (
	// QueueDepth bounds every bounded cross-thread FIFO.
	QueueDepth = 10

	// CoordinationLoopPollTimeout bounds the coordination thread's wait on
	// its inbound queue so periodic work is never starved.
	CoordinationLoopPollTimeout = 100 * time.Millisecond

	// GuardedAccessorTimeout bounds every lock acquisition on shared state;
	// on timeout the accessor returns a safe default rather than blocking.
	GuardedAccessorTimeout = 100 * time.Millisecond
)

package corestate

import "time"

// Role is this node's assignment in the two-node pairing (spec.md §3).
type Role uint8

const (
	RoleUnassigned Role = iota
	RoleLeader
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "Leader"
	case RoleFollower:
		return "Follower"
	default:
		return "Unassigned"
	}
}

// ConnectionPhase is the Connection State variant (spec.md §3).
type ConnectionPhase uint8

const (
	ConnIdle ConnectionPhase = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
)

func (p ConnectionPhase) String() string {
	switch p {
	case ConnConnecting:
		return "Connecting"
	case ConnConnected:
		return "Connected"
	case ConnDisconnected:
		return "Disconnected"
	default:
		return "Idle"
	}
}

// ConnectionState carries the phase plus, for Disconnected, the timestamp
// the disconnect began (used to evaluate the 120s invalidation bound).
type ConnectionState struct {
	Phase          ConnectionPhase
	DisconnectedAt time.Time
}

// FilterMode is the Sync Filter's convergence mode (spec.md §3, §4.2).
type FilterMode uint8

const (
	FilterFastAttack FilterMode = iota
	FilterSteadyState
)

func (m FilterMode) String() string {
	if m == FilterSteadyState {
		return "SteadyState"
	}
	return "FastAttack"
}

// RawSample is one raw offset observation retained in the Sync Filter's
// ring buffer, tagged with its acceptance disposition (spec.md §3).
type RawSample struct {
	RawOffsetUs int64
	Accepted    bool
	ObservedAt  time.Time
}

// SyncFilterState is the Sync Engine's EMA filter state (spec.md §3, §4.2).
type SyncFilterState struct {
	Ring             [8]RawSample
	RingLen          int
	RingNext         int
	FilteredOffsetUs int64
	AcceptedCount    int
	OutlierCount     int
	Mode             FilterMode
	// ConsecutiveStable counts samples within StabilizationBand of the
	// estimate, for the early fast-attack -> steady-state transition.
	ConsecutiveStable int
}

// pushSample records a raw sample into the ring buffer, evicting the
// oldest entry once full.
func (s *SyncFilterState) pushSample(sample RawSample) {
	s.Ring[s.RingNext] = sample
	s.RingNext = (s.RingNext + 1) % len(s.Ring)
	if s.RingLen < len(s.Ring) {
		s.RingLen++
	}
}

// PatternEpoch is the shared reference time + cycle parameters both nodes
// compute activation deadlines from (spec.md §3).
type PatternEpoch struct {
	// Valid is false until the Leader first activates or the Follower
	// installs one via handshake/beacon; an invalid epoch halts activation.
	Valid      bool
	EpochUs    int64 // leader_time reference
	PeriodMs   uint32
	DutyPct    uint8
	ModeID     uint8
}

// ArmedModeChange is the optional pending two-phase commit record
// (spec.md §3, §4.4).
type ArmedModeChange struct {
	Armed              bool
	NewMode            uint8
	NewPeriodMs        uint32
	NewActiveMs        uint32
	LeaderEffectiveUs  int64
	FollowerEffective  int64
}

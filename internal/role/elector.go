// Package role implements the Role Elector component (spec.md §4.1):
// deterministic Leader/Follower assignment by battery level with an id
// tiebreak, plus connection-lifecycle tracking that invalidates the
// Pattern Epoch on a role swap or a disconnect exceeding the safety bound.
package role

import (
	"sync"
	"time"

	"github.com/lemonforest/biphase/common"
	"github.com/lemonforest/biphase/common/log"
	"github.com/lemonforest/biphase/internal/corestate"
	"github.com/lemonforest/biphase/internal/telemetry"
)

// Elect decides Leader or Follower for the local node. Higher battery
// wins; on an exact tie, the higher 6-byte id wins. This is a pure,
// deterministic function so both nodes independently reach agreeing
// verdicts (spec.md §8: "Role election is symmetric").
func Elect(localBatteryPct, peerBatteryPct uint8, localID, peerID common.NodeID) corestate.Role {
	if localBatteryPct != peerBatteryPct {
		if localBatteryPct > peerBatteryPct {
			return corestate.RoleLeader
		}
		return corestate.RoleFollower
	}
	if localID.Greater(peerID) {
		return corestate.RoleLeader
	}
	return corestate.RoleFollower
}

// Elector tracks connection lifecycle on top of Elect's pure decision,
// handling the role-swap and disconnect-timeout side effects that touch
// shared state (spec.md §4.1).
type Elector struct {
	log   log.Logger
	state *corestate.State

	mu           sync.Mutex
	hasPrior     bool
	priorRole    corestate.Role
	transitions  int64
}

// New builds an Elector bound to the given shared state.
func New(l log.Logger, state *corestate.State) *Elector {
	return &Elector{log: l, state: state}
}

// OnConnected applies a freshly elected role. If this is the first
// session, or the role matches the prior session's, it is accepted
// quietly. If it differs from the prior session's role, this is a role
// swap: the Pattern Epoch is invalidated because it may hold stale
// follower state from a previous leader that is no longer authoritative.
func (e *Elector) OnConnected(newRole corestate.Role, now time.Time) {
	e.mu.Lock()
	swapped := e.hasPrior && e.priorRole != newRole
	e.priorRole = newRole
	e.hasPrior = true
	e.transitions++
	e.mu.Unlock()

	e.state.SetRole(newRole)
	e.state.SetConnectionState(corestate.ConnectionState{Phase: corestate.ConnConnected})
	telemetry.ConnectionState.Set(1)

	roleValue := 0.0
	switch newRole {
	case corestate.RoleLeader:
		roleValue = 1
	case corestate.RoleFollower:
		roleValue = 2
	}
	telemetry.RoleState.Set(roleValue)

	if swapped {
		telemetry.RoleSwaps.Inc()
		e.log.Warnw("role swap on reconnect", "newRole", newRole.String())
		e.state.InvalidatePatternEpoch()
	} else {
		e.log.Infow("role assigned", "role", newRole.String())
	}
}

// OnDisconnected transitions to Disconnected and records when. Pattern
// Epoch, Clock Offset, and the filter estimate are preserved so the
// Follower can keep alternating via extrapolation for a bounded time
// (spec.md §4.1).
func (e *Elector) OnDisconnected(now time.Time) {
	e.state.SetConnectionState(corestate.ConnectionState{
		Phase:          corestate.ConnDisconnected,
		DisconnectedAt: now,
	})
	telemetry.ConnectionState.Set(0)
	e.log.Infow("disconnected", "at", now)
}

// CheckDisconnectTimeout invalidates the Pattern Epoch if the node has
// been disconnected for longer than DisconnectInvalidationTimeout (120s).
// Expected to be polled periodically from the coordination loop.
func (e *Elector) CheckDisconnectTimeout(now time.Time) {
	cs := e.state.ConnectionState()
	if cs.Phase != corestate.ConnDisconnected {
		return
	}
	if now.Sub(cs.DisconnectedAt) > common.DisconnectInvalidationTimeout {
		e.log.Warnw("disconnect exceeded safety window, invalidating pattern epoch",
			"since", cs.DisconnectedAt, "now", now)
		e.state.InvalidatePatternEpoch()
	}
}

// Transitions returns the number of OnConnected calls observed so far,
// primarily for diagnostics and tests.
func (e *Elector) Transitions() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transitions
}

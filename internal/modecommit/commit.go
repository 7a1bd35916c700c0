// Package modecommit implements the Mode Commit component (spec.md §4.4):
// the Leader-proposed, Follower-validated two-phase commit that lets both
// nodes switch cycle parameters (period, duty, mode id) at the same
// synchronized instant without a stop-the-world pause. Proposal validation
// and arming happen here; the atomic install at the effective crossing is
// the Pattern Scheduler's job, since it already polls get_sync_time() every
// tick (spec.md §4.3, §4.4).
package modecommit

import (
	"fmt"

	"github.com/lemonforest/biphase/common"
	"github.com/lemonforest/biphase/common/log"
	"github.com/lemonforest/biphase/internal/corestate"
	"github.com/lemonforest/biphase/internal/telemetry"
	"github.com/lemonforest/biphase/internal/wire"
)

// Commit holds the Leader- and Follower-side logic for proposing,
// validating, and arming a mode change. Both roles share one type since
// a node's role can change across a reconnect.
type Commit struct {
	log   log.Logger
	state *corestate.State
}

// New builds a Commit bound to the given shared state.
func New(l log.Logger, state *corestate.State) *Commit {
	return &Commit{log: l, state: state}
}

// Propose builds a ModeProposal from the Leader side: leader_effective is
// now_sync plus a safety margin chosen to exceed worst-case delivery time;
// follower_effective trails it by half the new period so the Follower's
// antiphase offset lands on the same wall-clock activation edge
// (spec.md §4.4).
func (c *Commit) Propose(nowSyncUs int64, newMode uint8, newPeriodMs, newActiveMs uint32) wire.ModeProposal {
	leaderEffectiveUs := nowSyncUs + common.ModeChangeSafetyMargin.Microseconds()
	followerEffectiveUs := leaderEffectiveUs + int64(newPeriodMs)*1000/2

	return wire.ModeProposal{
		NewMode:           newMode,
		NewPeriodMs:       newPeriodMs,
		NewActiveMs:       newActiveMs,
		LeaderEffectiveUs: uint64(leaderEffectiveUs),
		FollowerEffective: uint64(followerEffectiveUs),
	}
}

// HandleProposal validates an incoming ModeProposal from the Follower side
// and, if accepted, arms the change in shared state and returns the Ack to
// send back. Rejection reasons mirror spec.md §7's disposition table:
// a leader_effective already in the past is a stale proposal.
func (c *Commit) HandleProposal(p wire.ModeProposal, nowSyncUs int64, pe corestate.PatternEpoch) (wire.ModeAck, error) {
	leaderEffectiveUs := int64(p.LeaderEffectiveUs)
	followerEffectiveUs := int64(p.FollowerEffective)

	if leaderEffectiveUs <= nowSyncUs {
		telemetry.ModeChangesRejected.WithLabelValues("stale").Inc()
		c.log.Warnw("rejecting stale mode proposal", "leaderEffectiveUs", leaderEffectiveUs, "nowSyncUs", nowSyncUs)
		return wire.ModeAck{}, common.ErrStaleProposal
	}
	if followerEffectiveUs <= nowSyncUs {
		telemetry.ModeChangesRejected.WithLabelValues("stale").Inc()
		return wire.ModeAck{}, common.ErrStaleProposal
	}

	if pe.Valid && pe.PeriodMs > 0 {
		oldPeriodUs := int64(pe.PeriodMs) * 1000
		offsetIntoOldEpoch := (leaderEffectiveUs - pe.EpochUs) % oldPeriodUs
		if offsetIntoOldEpoch < 0 {
			offsetIntoOldEpoch += oldPeriodUs
		}
		tolerance := common.ModeChangeEpochAlignmentTolerance.Microseconds()
		if offsetIntoOldEpoch > tolerance && oldPeriodUs-offsetIntoOldEpoch > tolerance {
			telemetry.ModeChangesRejected.WithLabelValues("misaligned").Inc()
			return wire.ModeAck{}, fmt.Errorf("modecommit: leader_effective %dus misaligned with old epoch: %w", leaderEffectiveUs, common.ErrStaleProposal)
		}
	}

	c.arm(p)
	return wire.ModeAck{LeaderEffectiveUs: p.LeaderEffectiveUs}, nil
}

// HandleAck folds a Follower's Ack into the Leader's own armed state, so the
// Leader installs the identical parameters at the identical leader_effective
// instant the Follower already validated. The Leader arms unconditionally
// on Propose in most deployments; Ack here simply confirms it, and is a
// no-op if the Leader's own arm has since been superseded or cleared.
func (c *Commit) HandleAck(ack wire.ModeAck) {
	current := c.state.ArmedChange()
	if !current.Armed || int64(current.LeaderEffectiveUs) != int64(ack.LeaderEffectiveUs) {
		c.log.Warnw("received ack for unknown or superseded proposal", "leaderEffectiveUs", ack.LeaderEffectiveUs)
		return
	}
	c.log.Infow("mode change acked by peer", "leaderEffectiveUs", ack.LeaderEffectiveUs)
}

// ArmLeaderSide arms the Leader's own copy of an outgoing proposal, to be
// installed by the Pattern Scheduler at the same leader_effective instant
// the Follower will independently reach (spec.md §4.4).
func (c *Commit) ArmLeaderSide(p wire.ModeProposal) {
	c.arm(p)
}

func (c *Commit) arm(p wire.ModeProposal) {
	c.state.SetArmedChange(corestate.ArmedModeChange{
		Armed:             true,
		NewMode:           p.NewMode,
		NewPeriodMs:       p.NewPeriodMs,
		NewActiveMs:       p.NewActiveMs,
		LeaderEffectiveUs: int64(p.LeaderEffectiveUs),
		FollowerEffective: int64(p.FollowerEffective),
	})
	telemetry.ModeChangesArmed.Inc()
}

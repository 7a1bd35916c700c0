package modecommit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lemonforest/biphase/common"
	"github.com/lemonforest/biphase/common/testlogger"
	"github.com/lemonforest/biphase/internal/corestate"
	"github.com/lemonforest/biphase/internal/wire"
)

func newTestCommit(t *testing.T) (*Commit, *corestate.State) {
	s := corestate.New(testlogger.New(t), 100*time.Millisecond)
	return New(testlogger.New(t), s), s
}

func TestProposeComputesFollowerEffectiveAsHalfPeriodAfterLeader(t *testing.T) {
	c, _ := newTestCommit(t)
	p := c.Propose(1_000_000, 2, 4000, 1000)

	wantLeaderEffective := uint64(1_000_000 + common.ModeChangeSafetyMargin.Microseconds())
	require.Equal(t, wantLeaderEffective, p.LeaderEffectiveUs)
	require.Equal(t, wantLeaderEffective+2_000_000, p.FollowerEffective) // +new_period(4000ms)/2 = +2,000,000us
}

func TestHandleProposalAcceptsAlignedFutureProposal(t *testing.T) {
	c, state := newTestCommit(t)
	pe := corestate.PatternEpoch{Valid: true, EpochUs: 0, PeriodMs: 2000, DutyPct: 50}

	// leader_effective lands exactly on a period boundary (4,000,000us =
	// 2 * old period), satisfying the alignment check.
	p := wire.ModeProposal{
		NewMode:           1,
		NewPeriodMs:       3000,
		NewActiveMs:       900,
		LeaderEffectiveUs: 4_000_000,
		FollowerEffective: 5_500_000,
	}

	ack, err := c.HandleProposal(p, 1_000_000, pe)
	require.NoError(t, err)
	require.Equal(t, p.LeaderEffectiveUs, ack.LeaderEffectiveUs)
	require.True(t, state.ArmedChange().Armed)
	require.Equal(t, uint8(1), state.ArmedChange().NewMode)
}

func TestHandleProposalRejectsStaleLeaderEffective(t *testing.T) {
	c, state := newTestCommit(t)
	pe := corestate.PatternEpoch{Valid: true, EpochUs: 0, PeriodMs: 2000, DutyPct: 50}

	p := wire.ModeProposal{
		NewMode: 1, NewPeriodMs: 3000, NewActiveMs: 900,
		LeaderEffectiveUs: 1_000_000, FollowerEffective: 2_500_000,
	}
	// now_sync has already passed leader_effective.
	_, err := c.HandleProposal(p, 1_000_001, pe)
	require.ErrorIs(t, err, common.ErrStaleProposal)
	require.False(t, state.ArmedChange().Armed)
}

func TestHandleProposalRejectsMisalignedEffective(t *testing.T) {
	c, state := newTestCommit(t)
	pe := corestate.PatternEpoch{Valid: true, EpochUs: 0, PeriodMs: 2000, DutyPct: 50}

	// leader_effective offset by 100ms into the 2000ms period: well outside
	// the 1ms alignment tolerance.
	p := wire.ModeProposal{
		NewMode: 1, NewPeriodMs: 3000, NewActiveMs: 900,
		LeaderEffectiveUs: 4_100_000, FollowerEffective: 5_600_000,
	}
	_, err := c.HandleProposal(p, 1_000_000, pe)
	require.ErrorIs(t, err, common.ErrStaleProposal)
	require.False(t, state.ArmedChange().Armed)
}

func TestHandleAckIgnoresUnknownProposal(t *testing.T) {
	c, state := newTestCommit(t)
	c.HandleAck(wire.ModeAck{LeaderEffectiveUs: 12345})
	require.False(t, state.ArmedChange().Armed)
}

func TestHandleAckConfirmsMatchingArm(t *testing.T) {
	c, state := newTestCommit(t)
	p := c.Propose(0, 3, 5000, 1200)
	c.ArmLeaderSide(p)

	c.HandleAck(wire.ModeAck{LeaderEffectiveUs: p.LeaderEffectiveUs})
	require.True(t, state.ArmedChange().Armed, "ack must not clear the arm")
}

func TestArmLeaderSideMirrorsFollowerArm(t *testing.T) {
	c, state := newTestCommit(t)
	p := c.Propose(0, 3, 5000, 1200)
	c.ArmLeaderSide(p)

	armed := state.ArmedChange()
	require.True(t, armed.Armed)
	require.Equal(t, uint8(3), armed.NewMode)
	require.Equal(t, uint32(5000), armed.NewPeriodMs)
	require.Equal(t, int64(p.LeaderEffectiveUs), armed.LeaderEffectiveUs)
}

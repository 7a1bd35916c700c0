// Package router implements the Coordination Router component (spec.md
// §4.5): the single inbound dispatch point that decodes wire frames,
// drops duplicate beacon deliveries, buffers the handful of messages that
// can legitimately arrive before role election completes, and hands
// everything else to the component that owns it.
package router

import (
	"context"
	"fmt"
	"time"

	skiplog "github.com/lemonforest/biphase/internal/context"

	"github.com/lemonforest/biphase/common/log"
	"github.com/lemonforest/biphase/internal/corestate"
	"github.com/lemonforest/biphase/internal/modecommit"
	"github.com/lemonforest/biphase/internal/ports"
	"github.com/lemonforest/biphase/internal/syncengine"
	"github.com/lemonforest/biphase/internal/telemetry"
	"github.com/lemonforest/biphase/internal/wire"
)

// HousekeepingHandler receives the out-of-core messages the coordination
// core itself doesn't own (settings, advertising, client liveness) but
// still flows through the Router's dispatch; duplicate filtering applies
// to beacons only, not to these.
type HousekeepingHandler func(env wire.Envelope, m wire.Message)

// Router dispatches every inbound frame to the Sync Engine, Mode Commit, or
// a housekeeping handler, in the role this node currently holds.
type Router struct {
	log       log.Logger
	state     *corestate.State
	engine    *syncengine.Engine
	commit    *modecommit.Commit
	transport ports.Transport
	clock     ports.Clock
	now       func() time.Time
	onHouse   HousekeepingHandler

	hasLastBeaconSeq bool
	lastBeaconSeq    uint8

	hasPendingTimeRequest bool
	pendingTimeRequest    wire.TimeRequest
	hasPendingClientReady bool
}

// New builds a Router wired to the given components.
func New(l log.Logger, state *corestate.State, engine *syncengine.Engine, commit *modecommit.Commit, transport ports.Transport, clock ports.Clock) *Router {
	return &Router{
		log:       l,
		state:     state,
		engine:    engine,
		commit:    commit,
		transport: transport,
		clock:     clock,
		now:       time.Now,
	}
}

// OnHousekeeping registers the handler for out-of-core message classes.
func (r *Router) OnHousekeeping(h HousekeepingHandler) {
	r.onHouse = h
}

// Dispatch decodes and routes one inbound frame. Returns a decode error
// verbatim; handler-side errors (stale proposal, checksum mismatch) are
// logged and swallowed since a single bad frame must never stall the
// coordination loop (spec.md §7).
func (r *Router) Dispatch(ctx context.Context, msg ports.InboundMessage) error {
	env, m, err := wire.Decode(msg.Bytes)
	if err != nil {
		if t, perr := wire.PeekType(msg.Bytes); perr == nil && t == wire.TypeBeacon {
			telemetry.SyncFailures.Inc()
		}
		r.log.Warnw("dropping undecodable frame", "err", err)
		return err
	}

	if env.Type == wire.TypeBeacon {
		ctx = skiplog.SetSkipLogs(ctx, true)
	}

	role := r.state.Role()

	switch v := m.(type) {
	case wire.Beacon:
		r.handleBeacon(ctx, v, msg.RxMicros)
	case wire.TimeRequest:
		r.handleTimeRequest(ctx, v, msg.RxMicros, role)
	case wire.TimeResponse:
		r.handleTimeResponse(ctx, v, msg.RxMicros)
	case wire.ModeProposal:
		r.handleModeProposal(ctx, v, msg.RxMicros, role)
	case wire.ModeAck:
		r.commit.HandleAck(v)
	case wire.ActivationReport:
		r.engine.RecordActivationFeedback(float64(v.MeasuredErrorMs))
	case wire.ReverseProbe, wire.ReverseProbeResponse:
		// Diagnostic scaffolding only; never folded into the offset path.
	case wire.ClientReady:
		if role == corestate.RoleUnassigned {
			r.hasPendingClientReady = true
			return nil
		}
		r.dispatchHousekeeping(env, m)
	default:
		r.dispatchHousekeeping(env, m)
	}
	return nil
}

func (r *Router) dispatchHousekeeping(env wire.Envelope, m wire.Message) {
	if r.onHouse != nil {
		r.onHouse(env, m)
	}
}

func (r *Router) handleBeacon(ctx context.Context, b wire.Beacon, rxUs int64) {
	if r.hasLastBeaconSeq && b.Sequence == r.lastBeaconSeq {
		if !skiplog.IsSkipLogsFromContext(ctx) {
			r.log.Debugw("dropping duplicate beacon", "sequence", b.Sequence)
		}
		return
	}
	if err := r.engine.HandleBeacon(b, rxUs, r.now()); err != nil {
		if !skiplog.IsSkipLogsFromContext(ctx) {
			r.log.Warnw("beacon rejected", "err", err)
		}
		return
	}
	r.hasLastBeaconSeq = true
	r.lastBeaconSeq = b.Sequence
}

// handleTimeRequest answers a Follower's handshake request from the Leader
// side. A request arriving before role election completes is buffered (one
// slot) so it can be replayed once FlushBuffered is called.
func (r *Router) handleTimeRequest(ctx context.Context, req wire.TimeRequest, rxUs int64, role corestate.Role) {
	if role == corestate.RoleUnassigned {
		r.hasPendingTimeRequest = true
		r.pendingTimeRequest = req
		return
	}
	t3 := r.clock.NowMicros()
	resp := r.engine.HandleTimeRequest(req, rxUs, t3, r.state.PatternEpoch())
	if err := r.transport.Send(ctx, wire.Encode(uint32(t3/1000), resp)); err != nil {
		r.log.Warnw("failed to send time response", "err", err)
	}
}

func (r *Router) handleTimeResponse(ctx context.Context, resp wire.TimeResponse, rxUs int64) {
	if err := r.engine.HandleTimeResponse(resp, rxUs, r.now()); err != nil {
		r.log.Warnw("handshake response rejected", "err", err)
	}
}

func (r *Router) handleModeProposal(ctx context.Context, p wire.ModeProposal, rxUs int64, role corestate.Role) {
	nowSync := r.engine.GetSyncTime(rxUs, role)
	ack, err := r.commit.HandleProposal(p, nowSync, r.state.PatternEpoch())
	if err != nil {
		r.log.Warnw("mode proposal rejected", "err", err)
		return
	}
	if err := r.transport.Send(ctx, wire.Encode(uint32(rxUs/1000), ack)); err != nil {
		r.log.Warnw("failed to send mode ack", "err", err)
	}
}

// FlushBuffered replays any TimeRequest or ClientReady that arrived before
// role election completed, once it has. Call this right after the Role
// Elector installs a role.
func (r *Router) FlushBuffered(ctx context.Context) error {
	role := r.state.Role()
	if role == corestate.RoleUnassigned {
		return fmt.Errorf("router: cannot flush buffered messages before role election")
	}
	if r.hasPendingTimeRequest {
		r.handleTimeRequest(ctx, r.pendingTimeRequest, r.clock.NowMicros(), role)
		r.hasPendingTimeRequest = false
	}
	if r.hasPendingClientReady {
		r.dispatchHousekeeping(wire.Envelope{Type: wire.TypeClientReady}, wire.ClientReady{})
		r.hasPendingClientReady = false
	}
	return nil
}

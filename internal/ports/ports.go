// Package ports declares the external interfaces the coordination core
// depends on or drives (spec.md §6). Production wiring (real transport
// stack, ADC-backed battery reads, PWM-driven actuator) lives outside this
// module; the in-process demo harness and tests supply fakes.
package ports

import (
	"context"
	"time"

	"github.com/lemonforest/biphase/common"
)

// Clock is the upstream monotonic time source. Implementations must be
// sub-millisecond precision and monotonic; wall-clock correctness is
// explicitly not required (spec.md §1 Non-goals).
type Clock interface {
	// NowMicros returns the local monotonic clock in microseconds.
	NowMicros() int64
}

// Transport is the fire-and-forget message channel to the peer node. The
// core never blocks on Send; failures are logged and recovered on the next
// periodic retry (spec.md §7).
type Transport interface {
	// Send transmits bytes to the peer. It returns ErrNotConnected if no
	// link is currently established.
	Send(ctx context.Context, b []byte) error
}

// InboundMessage pairs a received frame with its local receive timestamp,
// as delivered by the transport's receive callback.
type InboundMessage struct {
	Bytes    []byte
	RxMicros int64
}

// Battery reports the local battery level, sampled for role election.
type Battery interface {
	// PercentCharged returns 0..100.
	PercentCharged() uint8
}

// Identity reports this node's and its peer's 6-byte addresses.
type Identity interface {
	LocalNodeID() common.NodeID
	PeerNodeID() common.NodeID
}

// Watchdog must be fed on every coordination loop iteration; production
// implementations arm a hardware or OS watchdog timer.
type Watchdog interface {
	Reset()
}

// ActuatorState is the commanded state of the physical actuator.
type ActuatorState uint8

const (
	ActuatorInactive ActuatorState = iota
	ActuatorActive
)

// ActuatorDirection alternates per cycle parity, giving the physical
// mechanism a forward/reverse stroke across consecutive ACTIVE windows.
type ActuatorDirection uint8

const (
	DirectionForward ActuatorDirection = iota
	DirectionReverse
)

// Actuator is the downstream interface the Pattern Scheduler drives.
type Actuator interface {
	Command(state ActuatorState, direction ActuatorDirection, intensityPct uint8)
}

// RealClock adapts a github.com/jonboulle/clockwork.Clock-compatible source
// to the Clock port. Kept tiny and separate from the clockwork dependency
// itself so components only ever depend on ports.Clock.
type RealClock struct {
	Since time.Time
	Now   func() time.Time
}

// NowMicros returns elapsed microseconds since Since, using Now (defaulting
// to time.Now) as the current-time source.
func (c RealClock) NowMicros() int64 {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().Sub(c.Since).Microseconds()
}

// Package wire implements the little-endian, fixed-layout wire codec for
// the coordination protocol described in spec.md §4.5/§6: a 1-byte type tag
// and 4-byte diagnostic timestamp envelope, followed by a type-specific
// packed payload. There is no reliance on host struct memory layout —
// every field is encoded and decoded explicitly.
package wire

import "encoding/binary"

// Message is implemented by every coordination payload type.
type Message interface {
	Type() MessageType
	marshalPayload() []byte
}

const (
	timeRequestPayloadLen          = 8
	timeResponsePayloadLen         = 40
	beaconPayloadLen               = 25
	beaconCRCLen                   = 23 // bytes covered by the CRC, i.e. beaconPayloadLen-2
	modeProposalPayloadLen         = 28
	modeAckPayloadLen              = 8
	activationReportPayloadLen     = 48
	reverseProbePayloadLen         = 12
	reverseProbeResponsePayloadLen = 20
	shutdownPayloadLen             = 1
	firmwareVersionPayloadLen      = 4
	clientBatteryPayloadLen        = 1
	maxSettingsPayloadLen          = 32
)

// Encode produces the full wire representation of m: envelope then payload.
func Encode(timestampMs uint32, m Message) []byte {
	payload := m.marshalPayload()
	buf := make([]byte, envelopeLen+len(payload))
	putEnvelope(buf, Envelope{Type: m.Type(), TimestampMs: timestampMs})
	copy(buf[envelopeLen:], payload)
	return buf
}

// Decode parses a received packet into its envelope and concrete message.
// It validates the declared type's expected length before touching the
// payload, per spec.md §4.5's framing contract.
func Decode(b []byte) (Envelope, Message, error) {
	if len(b) < envelopeLen {
		return Envelope{}, nil, ErrTooShort
	}
	env := getEnvelope(b)
	payload := b[envelopeLen:]

	expected, ok := maxPayloadLen[env.Type]
	if !ok {
		return env, nil, ErrUnknownType{Type: env.Type}
	}
	if env.Type == TypeSettings {
		if len(payload) > expected {
			return env, nil, ErrLengthMismatch{Type: env.Type, Got: len(payload), Expected: expected}
		}
	} else if len(payload) != expected {
		return env, nil, ErrLengthMismatch{Type: env.Type, Got: len(payload), Expected: expected}
	}

	m, err := unmarshalPayload(env.Type, payload)
	return env, m, err
}

func unmarshalPayload(t MessageType, p []byte) (Message, error) {
	switch t {
	case TypeTimeRequest:
		return unmarshalTimeRequest(p), nil
	case TypeTimeResponse:
		return unmarshalTimeResponse(p), nil
	case TypeBeacon:
		return unmarshalBeacon(p)
	case TypeModeProposal:
		return unmarshalModeProposal(p), nil
	case TypeModeAck:
		return unmarshalModeAck(p), nil
	case TypeActivationReport:
		return unmarshalActivationReport(p), nil
	case TypeReverseProbe:
		return unmarshalReverseProbe(p), nil
	case TypeReverseProbeResponse:
		return unmarshalReverseProbeResponse(p), nil
	case TypeShutdown:
		return unmarshalShutdown(p), nil
	case TypeSettings:
		return unmarshalSettings(p), nil
	case TypeFirmwareVersion:
		return unmarshalFirmwareVersion(p), nil
	case TypeStartAdvertising:
		return StartAdvertising{}, nil
	case TypeClientBattery:
		return unmarshalClientBattery(p), nil
	case TypeClientReady:
		return ClientReady{}, nil
	default:
		return nil, ErrUnknownType{Type: t}
	}
}

// ---- TimeRequest ----

// TimeRequest is sent by the Follower to begin the handshake (spec.md
// §4.2 Phase 1): T1 is the Follower's local_clock at send time.
type TimeRequest struct {
	T1 uint64
}

func (TimeRequest) Type() MessageType { return TypeTimeRequest }

func (m TimeRequest) marshalPayload() []byte {
	b := make([]byte, timeRequestPayloadLen)
	binary.LittleEndian.PutUint64(b[0:8], m.T1)
	return b
}

func unmarshalTimeRequest(b []byte) TimeRequest {
	return TimeRequest{T1: binary.LittleEndian.Uint64(b[0:8])}
}

// ---- TimeResponse ----

// TimeResponse completes the handshake (spec.md §4.2 Phase 1). Reserved
// pads the payload to the declared 40-byte length.
type TimeResponse struct {
	T1, T2, T3     uint64
	CurrentEpochUs uint64
	CurrentPeriod  uint32
	Reserved       uint32
}

func (TimeResponse) Type() MessageType { return TypeTimeResponse }

func (m TimeResponse) marshalPayload() []byte {
	b := make([]byte, timeResponsePayloadLen)
	binary.LittleEndian.PutUint64(b[0:8], m.T1)
	binary.LittleEndian.PutUint64(b[8:16], m.T2)
	binary.LittleEndian.PutUint64(b[16:24], m.T3)
	binary.LittleEndian.PutUint64(b[24:32], m.CurrentEpochUs)
	binary.LittleEndian.PutUint32(b[32:36], m.CurrentPeriod)
	binary.LittleEndian.PutUint32(b[36:40], m.Reserved)
	return b
}

func unmarshalTimeResponse(b []byte) TimeResponse {
	return TimeResponse{
		T1:             binary.LittleEndian.Uint64(b[0:8]),
		T2:             binary.LittleEndian.Uint64(b[8:16]),
		T3:             binary.LittleEndian.Uint64(b[16:24]),
		CurrentEpochUs: binary.LittleEndian.Uint64(b[24:32]),
		CurrentPeriod:  binary.LittleEndian.Uint32(b[32:36]),
		Reserved:       binary.LittleEndian.Uint32(b[36:40]),
	}
}

// ---- Beacon ----

// Beacon is the Leader's periodic one-way broadcast (spec.md §4.2 Phase 2,
// §6). CRC16 covers every field up to but excluding the CRC itself.
type Beacon struct {
	LeaderTimeUs uint64
	EpochUs      uint64
	PeriodMs     uint32
	DutyPercent  uint8
	ModeID       uint8
	Sequence     uint8
	CRC          uint16
}

func (Beacon) Type() MessageType { return TypeBeacon }

// NewBeacon builds a Beacon with its CRC computed over the other fields.
func NewBeacon(leaderTimeUs, epochUs uint64, periodMs uint32, dutyPercent, modeID, sequence uint8) Beacon {
	b := Beacon{
		LeaderTimeUs: leaderTimeUs,
		EpochUs:      epochUs,
		PeriodMs:     periodMs,
		DutyPercent:  dutyPercent,
		ModeID:       modeID,
		Sequence:     sequence,
	}
	b.CRC = CRC16CCITT(b.crcBytes())
	return b
}

func (m Beacon) crcBytes() []byte {
	b := make([]byte, beaconCRCLen)
	binary.LittleEndian.PutUint64(b[0:8], m.LeaderTimeUs)
	binary.LittleEndian.PutUint64(b[8:16], m.EpochUs)
	binary.LittleEndian.PutUint32(b[16:20], m.PeriodMs)
	b[20] = m.DutyPercent
	b[21] = m.ModeID
	b[22] = m.Sequence
	return b
}

func (m Beacon) marshalPayload() []byte {
	b := make([]byte, beaconPayloadLen)
	copy(b[0:beaconCRCLen], m.crcBytes())
	binary.LittleEndian.PutUint16(b[beaconCRCLen:beaconPayloadLen], m.CRC)
	return b
}

// ValidCRC reports whether the Beacon's embedded CRC matches its fields.
func (m Beacon) ValidCRC() bool {
	return m.CRC == CRC16CCITT(m.crcBytes())
}

func unmarshalBeacon(b []byte) (Beacon, error) {
	m := Beacon{
		LeaderTimeUs: binary.LittleEndian.Uint64(b[0:8]),
		EpochUs:      binary.LittleEndian.Uint64(b[8:16]),
		PeriodMs:     binary.LittleEndian.Uint32(b[16:20]),
		DutyPercent:  b[20],
		ModeID:       b[21],
		Sequence:     b[22],
		CRC:          binary.LittleEndian.Uint16(b[23:25]),
	}
	return m, nil
}

// ---- ModeProposal ----

// ModeProposal proposes a synchronized future cycle-parameter change
// (spec.md §4.4). Reserved pads the payload to the declared 28-byte length.
type ModeProposal struct {
	NewMode            uint8
	Pad                uint8
	NewPeriodMs        uint32
	NewActiveMs        uint32
	LeaderEffectiveUs  uint64
	FollowerEffective  uint64
	Reserved           uint16
}

func (ModeProposal) Type() MessageType { return TypeModeProposal }

func (m ModeProposal) marshalPayload() []byte {
	b := make([]byte, modeProposalPayloadLen)
	b[0] = m.NewMode
	b[1] = m.Pad
	binary.LittleEndian.PutUint32(b[2:6], m.NewPeriodMs)
	binary.LittleEndian.PutUint32(b[6:10], m.NewActiveMs)
	binary.LittleEndian.PutUint64(b[10:18], m.LeaderEffectiveUs)
	binary.LittleEndian.PutUint64(b[18:26], m.FollowerEffective)
	binary.LittleEndian.PutUint16(b[26:28], m.Reserved)
	return b
}

func unmarshalModeProposal(b []byte) ModeProposal {
	return ModeProposal{
		NewMode:           b[0],
		Pad:               b[1],
		NewPeriodMs:       binary.LittleEndian.Uint32(b[2:6]),
		NewActiveMs:       binary.LittleEndian.Uint32(b[6:10]),
		LeaderEffectiveUs: binary.LittleEndian.Uint64(b[10:18]),
		FollowerEffective: binary.LittleEndian.Uint64(b[18:26]),
		Reserved:          binary.LittleEndian.Uint16(b[26:28]),
	}
}

// ---- ModeAck ----

// ModeAck confirms a ModeProposal was validated and armed by the Follower,
// echoing the leader-side effective time so the Leader can tell which
// proposal is being acked.
type ModeAck struct {
	LeaderEffectiveUs uint64
}

func (ModeAck) Type() MessageType { return TypeModeAck }

func (m ModeAck) marshalPayload() []byte {
	b := make([]byte, modeAckPayloadLen)
	binary.LittleEndian.PutUint64(b[0:8], m.LeaderEffectiveUs)
	return b
}

func unmarshalModeAck(b []byte) ModeAck {
	return ModeAck{LeaderEffectiveUs: binary.LittleEndian.Uint64(b[0:8])}
}

// ---- ActivationReport ----

// ActivationReport lets the Follower report observed drift back to the
// Leader (spec.md §4.3) so the Leader can independently verify timing.
type ActivationReport struct {
	ActualActiveTimeSync uint64
	TargetTimeSync       uint64
	MeasuredErrorMs      int32
	Cycle                uint32
	BeaconT1             uint64
	BeaconT2             uint64
	ReportT3             uint64
}

func (ActivationReport) Type() MessageType { return TypeActivationReport }

func (m ActivationReport) marshalPayload() []byte {
	b := make([]byte, activationReportPayloadLen)
	binary.LittleEndian.PutUint64(b[0:8], m.ActualActiveTimeSync)
	binary.LittleEndian.PutUint64(b[8:16], m.TargetTimeSync)
	binary.LittleEndian.PutUint32(b[16:20], uint32(m.MeasuredErrorMs))
	binary.LittleEndian.PutUint32(b[20:24], m.Cycle)
	binary.LittleEndian.PutUint64(b[24:32], m.BeaconT1)
	binary.LittleEndian.PutUint64(b[32:40], m.BeaconT2)
	binary.LittleEndian.PutUint64(b[40:48], m.ReportT3)
	return b
}

func unmarshalActivationReport(b []byte) ActivationReport {
	return ActivationReport{
		ActualActiveTimeSync: binary.LittleEndian.Uint64(b[0:8]),
		TargetTimeSync:       binary.LittleEndian.Uint64(b[8:16]),
		MeasuredErrorMs:      int32(binary.LittleEndian.Uint32(b[16:20])),
		Cycle:                binary.LittleEndian.Uint32(b[20:24]),
		BeaconT1:             binary.LittleEndian.Uint64(b[24:32]),
		BeaconT2:             binary.LittleEndian.Uint64(b[32:40]),
		ReportT3:             binary.LittleEndian.Uint64(b[40:48]),
	}
}

// ---- ReverseProbe / ReverseProbeResponse ----
//
// Diagnostic scaffolding only (spec.md design notes §9): the core never
// feeds these into the offset-update path. They are parsed like any other
// message, but the Router drops them on receipt, so neither the Sync Engine
// nor the housekeeping handler sees them.

type ReverseProbe struct {
	ProbeID  uint8
	_        [3]byte
	SendTime uint64
}

func (ReverseProbe) Type() MessageType { return TypeReverseProbe }

func (m ReverseProbe) marshalPayload() []byte {
	b := make([]byte, reverseProbePayloadLen)
	b[0] = m.ProbeID
	binary.LittleEndian.PutUint64(b[4:12], m.SendTime)
	return b
}

func unmarshalReverseProbe(b []byte) ReverseProbe {
	return ReverseProbe{ProbeID: b[0], SendTime: binary.LittleEndian.Uint64(b[4:12])}
}

type ReverseProbeResponse struct {
	ProbeID   uint8
	_         [3]byte
	EchoTime  uint64
	LocalTime uint64
}

func (ReverseProbeResponse) Type() MessageType { return TypeReverseProbeResponse }

func (m ReverseProbeResponse) marshalPayload() []byte {
	b := make([]byte, reverseProbeResponsePayloadLen)
	b[0] = m.ProbeID
	binary.LittleEndian.PutUint64(b[4:12], m.EchoTime)
	binary.LittleEndian.PutUint64(b[12:20], m.LocalTime)
	return b
}

func unmarshalReverseProbeResponse(b []byte) ReverseProbeResponse {
	return ReverseProbeResponse{
		ProbeID:   b[0],
		EchoTime:  binary.LittleEndian.Uint64(b[4:12]),
		LocalTime: binary.LittleEndian.Uint64(b[12:20]),
	}
}

// ---- Out-of-core housekeeping messages ----
//
// These carry state the core itself doesn't own (settings persistence,
// advertising, client app liveness — spec.md §1 Out-of-scope) but still
// flow through the Router's dispatch (its duplicate filtering covers
// beacons only), so they get a wire representation like everything else.

type Shutdown struct {
	Reason uint8
}

func (Shutdown) Type() MessageType { return TypeShutdown }

func (m Shutdown) marshalPayload() []byte { return []byte{m.Reason} }

func unmarshalShutdown(b []byte) Shutdown { return Shutdown{Reason: b[0]} }

// Settings carries an opaque, externally-owned settings blob.
type Settings struct {
	Data []byte
}

func (Settings) Type() MessageType { return TypeSettings }

func (m Settings) marshalPayload() []byte {
	if len(m.Data) > maxSettingsPayloadLen {
		return append([]byte(nil), m.Data[:maxSettingsPayloadLen]...)
	}
	return append([]byte(nil), m.Data...)
}

func unmarshalSettings(b []byte) Settings {
	return Settings{Data: append([]byte(nil), b...)}
}

type FirmwareVersion struct {
	Major, Minor, Patch uint8
	Reserved            uint8
}

func (FirmwareVersion) Type() MessageType { return TypeFirmwareVersion }

func (m FirmwareVersion) marshalPayload() []byte {
	return []byte{m.Major, m.Minor, m.Patch, m.Reserved}
}

func unmarshalFirmwareVersion(b []byte) FirmwareVersion {
	return FirmwareVersion{Major: b[0], Minor: b[1], Patch: b[2], Reserved: b[3]}
}

type StartAdvertising struct{}

func (StartAdvertising) Type() MessageType     { return TypeStartAdvertising }
func (StartAdvertising) marshalPayload() []byte { return nil }

type ClientBattery struct {
	Percent uint8
}

func (ClientBattery) Type() MessageType { return TypeClientBattery }

func (m ClientBattery) marshalPayload() []byte { return []byte{m.Percent} }

func unmarshalClientBattery(b []byte) ClientBattery { return ClientBattery{Percent: b[0]} }

type ClientReady struct{}

func (ClientReady) Type() MessageType      { return TypeClientReady }
func (ClientReady) marshalPayload() []byte { return nil }

package wire

import "fmt"

// MessageType discriminates the coordination protocol's wire messages. The
// numeric values are part of the wire contract: do not renumber existing
// entries, only append.
type MessageType byte

const (
	TypeTimeRequest MessageType = iota + 1
	TypeTimeResponse
	TypeBeacon
	TypeModeProposal
	TypeModeAck
	TypeActivationReport
	TypeReverseProbe
	TypeReverseProbeResponse
	TypeShutdown
	TypeSettings
	TypeFirmwareVersion
	TypeStartAdvertising
	TypeClientBattery
	TypeClientReady
)

func (t MessageType) String() string {
	switch t {
	case TypeTimeRequest:
		return "TimeRequest"
	case TypeTimeResponse:
		return "TimeResponse"
	case TypeBeacon:
		return "Beacon"
	case TypeModeProposal:
		return "ModeProposal"
	case TypeModeAck:
		return "ModeAck"
	case TypeActivationReport:
		return "ActivationReport"
	case TypeReverseProbe:
		return "ReverseProbe"
	case TypeReverseProbeResponse:
		return "ReverseProbeResponse"
	case TypeShutdown:
		return "Shutdown"
	case TypeSettings:
		return "Settings"
	case TypeFirmwareVersion:
		return "FirmwareVersion"
	case TypeStartAdvertising:
		return "StartAdvertising"
	case TypeClientBattery:
		return "ClientBattery"
	case TypeClientReady:
		return "ClientReady"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(t))
	}
}

// maxPayloadLen bounds the per-type payload so a receiver can reject an
// over-length packet before attempting to parse it (spec.md §4.5 framing
// contract: "receiver validates length before parsing").
var maxPayloadLen = map[MessageType]int{
	TypeTimeRequest:          timeRequestPayloadLen,
	TypeTimeResponse:         timeResponsePayloadLen,
	TypeBeacon:               beaconPayloadLen,
	TypeModeProposal:         modeProposalPayloadLen,
	TypeModeAck:              modeAckPayloadLen,
	TypeActivationReport:     activationReportPayloadLen,
	TypeReverseProbe:         reverseProbePayloadLen,
	TypeReverseProbeResponse: reverseProbeResponsePayloadLen,
	TypeShutdown:             shutdownPayloadLen,
	TypeSettings:             maxSettingsPayloadLen,
	TypeFirmwareVersion:      firmwareVersionPayloadLen,
	TypeStartAdvertising:     0,
	TypeClientBattery:        clientBatteryPayloadLen,
	TypeClientReady:          0,
}

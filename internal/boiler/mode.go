// Package boiler implements the feedwater controller core: the operating-mode
// state machine, the fault-detection reasoner, the pump planner and the
// repair handshake. The core performs no I/O; each five-second tick the
// driver hands it an inbound mailbox and an outbound mailbox and calls Tick
// exactly once.
package boiler

import "github.com/mbarbier/steamboiler/internal/protocol"

// Mode is the controller's operating mode.
type Mode int

const (
	ModeWaiting Mode = iota // Initial: waiting for the plant's ready handshake
	ModeReady               // PROGRAM_READY sent, waiting for PHYSICAL_UNITS_READY
	ModeNormal              // All peripherals healthy
	ModeDegraded            // At least one non-level peripheral faulted
	ModeRescue              // Level sensor untrusted, navigating on predictions
	ModeEmergencyStop       // Terminal
)

// String returns the wire name for a mode.
func (m Mode) String() string {
	switch m {
	case ModeWaiting:
		return protocol.ModeWaiting
	case ModeReady:
		return protocol.ModeReady
	case ModeNormal:
		return protocol.ModeNormal
	case ModeDegraded:
		return protocol.ModeDegraded
	case ModeRescue:
		return protocol.ModeRescue
	case ModeEmergencyStop:
		return protocol.ModeEmergencyStop
	default:
		return "unknown"
	}
}

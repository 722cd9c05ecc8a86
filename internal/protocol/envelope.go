package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bundle type constants.
const (
	TypePlantSensors       = "plant.sensors"
	TypeControllerCommands = "controller.commands"
	TypePlantInject        = "plant.inject"
)

// ValidBundleTypes lists all valid bundle types.
var ValidBundleTypes = []string{
	TypePlantSensors,
	TypeControllerCommands,
	TypePlantInject,
}

// SchemaVersion is the current protocol version.
const SchemaVersion = "v1.0.0"

// Bundle is the top-level wire unit: one envelope plus the tick's messages.
type Bundle struct {
	Envelope Envelope  `json:"envelope"`
	Messages []Message `json:"messages"`
	Inject   *Inject   `json:"inject,omitempty"`
}

// Envelope contains bundle metadata.
type Envelope struct {
	ID            string `json:"id"`
	Timestamp     int64  `json:"timestamp"`
	Source        Source `json:"source"`
	SchemaVersion string `json:"schema_version"`
	Type          string `json:"type"`
	Tick          int64  `json:"tick"`
}

// Source identifies who sent a bundle.
type Source struct {
	Service  string `json:"service"`
	Instance string `json:"instance"`
	Version  string `json:"version"`
}

// Inject is a fault-injection or repair directive for the plant simulator.
type Inject struct {
	Action     string  `json:"action"`
	Peripheral string  `json:"peripheral"`
	Pump       int     `json:"pump,omitempty"`
	Value      float64 `json:"value,omitempty"`
}

// Inject actions.
const (
	InjectLevelStuck   = "level_stuck"
	InjectLevelOffset  = "level_offset"
	InjectSteamStuck   = "steam_stuck"
	InjectPumpOn       = "pump_stuck_on"
	InjectPumpOff      = "pump_stuck_off"
	InjectPumpReduced  = "pump_reduced"
	InjectPumpTx       = "pump_tx_wrong"
	InjectControlStuck = "control_stuck"
	InjectValveOpen    = "valve_stuck_open"
	InjectAck          = "acknowledge"
	InjectRepair       = "repair"
	InjectClear        = "clear"
)

// ValidInjectActions lists every directive the simulator accepts.
var ValidInjectActions = []string{
	InjectLevelStuck, InjectLevelOffset, InjectSteamStuck,
	InjectPumpOn, InjectPumpOff, InjectPumpReduced, InjectPumpTx,
	InjectControlStuck, InjectValveOpen,
	InjectAck, InjectRepair, InjectClear,
}

// NewEnvelope creates an envelope with a generated UUIDv4 and current UTC timestamp.
func NewEnvelope(source Source, bundleType string, tick int64) Envelope {
	return Envelope{
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC().Unix(),
		Source:        source,
		SchemaVersion: SchemaVersion,
		Type:          bundleType,
		Tick:          tick,
	}
}

// BuildSensors wraps a tick's inbound messages in a plant.sensors bundle.
func BuildSensors(source Source, tick int64, msgs []Message) *Bundle {
	return &Bundle{
		Envelope: NewEnvelope(source, TypePlantSensors, tick),
		Messages: msgs,
	}
}

// BuildCommands wraps a tick's outbound messages in a controller.commands bundle.
func BuildCommands(source Source, tick int64, msgs []Message) *Bundle {
	return &Bundle{
		Envelope: NewEnvelope(source, TypeControllerCommands, tick),
		Messages: msgs,
	}
}

// BuildInject wraps a fault-injection directive in a plant.inject bundle.
func BuildInject(source Source, directive Inject) *Bundle {
	return &Bundle{
		Envelope: NewEnvelope(source, TypePlantInject, 0),
		Inject:   &directive,
	}
}

// Parse unmarshals JSON bytes into a Bundle.
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	return &b, nil
}

// Encode marshals a bundle for publishing.
func (b *Bundle) Encode() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	return data, nil
}

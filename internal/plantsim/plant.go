// Package plantsim simulates the physical steam boiler the controller is
// driven against: linear water/steam dynamics, sensor and actuator faults
// injected at the reading layer, and the plant side of the failure
// repair handshake.
package plantsim

import (
	"fmt"
	"math"
	"sync"

	"github.com/mbarbier/steamboiler/internal/config"
	"github.com/mbarbier/steamboiler/internal/protocol"
)

// DefaultSteamRamp is how much the steam rate grows per tick while heating,
// until it reaches the physical maximum.
const DefaultSteamRamp = 0.5

// pumpFault is the physical condition of one simulated pump.
type pumpFault int

const (
	pumpHealthy pumpFault = iota
	pumpStuckOn
	pumpStuckOff
	pumpReduced
)

// Plant is the simulated boiler. All methods are safe for concurrent use.
type Plant struct {
	mu  sync.Mutex
	cfg config.Plant

	level   float64
	steam   float64
	heating bool
	tick    int64

	pumpOpen  []bool // commanded state as received, per pump
	valveCmd  bool   // valve state as commanded via toggles
	steamRamp float64

	// Injected faults.
	levelStuck  *float64
	levelOffset float64
	steamStuck  *float64
	pumpFaults  []pumpFault
	pumpTxLie   []bool
	ctrlStuck   []bool
	ctrlFrozen  []bool
	valveStuck  bool

	// Startup handshake.
	programReady bool
	unitsSent    bool

	// Queued handshake messages for the next sensor bundle.
	queued []protocol.Message
}

// New creates a plant at the given starting level, cold and not heating.
func New(cfg config.Plant, startLevel float64) *Plant {
	return &Plant{
		cfg:        cfg,
		level:      startLevel,
		steamRamp:  DefaultSteamRamp,
		pumpOpen:   make([]bool, cfg.PumpCount),
		pumpFaults: make([]pumpFault, cfg.PumpCount),
		pumpTxLie:  make([]bool, cfg.PumpCount),
		ctrlStuck:  make([]bool, cfg.PumpCount),
		ctrlFrozen: make([]bool, cfg.PumpCount),
	}
}

// SetSteamRamp overrides the per-tick steam growth (for tests).
func (p *Plant) SetSteamRamp(ramp float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steamRamp = ramp
}

// pumpDelivers returns the physical delivery factor of pump i this tick.
func (p *Plant) pumpDelivers(i int) float64 {
	switch p.pumpFaults[i] {
	case pumpStuckOn:
		return 1
	case pumpStuckOff:
		return 0
	case pumpReduced:
		if p.pumpOpen[i] {
			return 0.5
		}
		return 0
	default:
		if p.pumpOpen[i] {
			return 1
		}
		return 0
	}
}

// valveEffective reports whether water is draining through the valve.
func (p *Plant) valveEffective() bool {
	return p.valveCmd || p.valveStuck
}

// Advance moves the physics forward one tick.
func (p *Plant) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()

	dt := config.TickSeconds
	inflow := 0.0
	for i := range p.pumpOpen {
		inflow += p.pumpDelivers(i) * p.cfg.PumpRate
	}

	// Steam rises through the tick; the volume it carries off is the
	// trapezoid of the start and end rates.
	newSteam := p.steam
	if p.heating && p.steam < p.cfg.SteamMax {
		newSteam = math.Min(p.cfg.SteamMax, p.steam+p.steamRamp)
	}
	outflow := (p.steam + newSteam) / 2
	if p.valveEffective() {
		outflow += p.cfg.ValveRate
	}

	p.level += dt * (inflow - outflow)
	p.level = math.Max(0, math.Min(p.cfg.Capacity, p.level))
	p.steam = newSteam
	p.tick++
}

// SensorBundle builds the tick's inbound messages as the (possibly faulty)
// instrumentation reports them, plus any queued handshake traffic.
func (p *Plant) SensorBundle(source protocol.Source) *protocol.Bundle {
	p.mu.Lock()
	defer p.mu.Unlock()

	var msgs []protocol.Message
	if !p.programReady {
		msgs = append(msgs, protocol.Message{Kind: protocol.KindBoilerWaiting})
	} else if !p.unitsSent {
		msgs = append(msgs, protocol.Message{Kind: protocol.KindPhysicalUnitsReady})
		p.unitsSent = true
		p.heating = true
	}

	level := p.level + p.levelOffset
	if p.levelStuck != nil {
		level = *p.levelStuck
	}
	msgs = append(msgs, protocol.Level(level))

	steam := p.steam
	if p.steamStuck != nil {
		steam = *p.steamStuck
	}
	msgs = append(msgs, protocol.Steam(steam))

	for i := range p.pumpOpen {
		state := p.pumpDelivers(i) > 0
		report := state
		if p.pumpTxLie[i] {
			report = !report
		}
		msgs = append(msgs, protocol.PumpState(i, report))

		ctrlReport := state
		if p.ctrlStuck[i] {
			ctrlReport = p.ctrlFrozen[i]
		}
		msgs = append(msgs, protocol.PumpControlState(i, ctrlReport))
	}

	msgs = append(msgs, p.queued...)
	p.queued = nil

	return protocol.BuildSensors(source, p.tick, msgs)
}

// ApplyCommands consumes the controller's outbound bundle: pump open/close,
// valve toggles and the startup handshake. Detections and mode messages are
// observed but acted on only through injected ack/repair directives.
func (p *Plant) ApplyCommands(b *protocol.Bundle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range b.Messages {
		switch m.Kind {
		case protocol.KindOpenPump:
			if m.Pump >= 0 && m.Pump < len(p.pumpOpen) {
				p.pumpOpen[m.Pump] = true
			}
		case protocol.KindClosePump:
			if m.Pump >= 0 && m.Pump < len(p.pumpOpen) {
				p.pumpOpen[m.Pump] = false
			}
		case protocol.KindValve:
			p.valveCmd = !p.valveCmd
		case protocol.KindProgramReady:
			p.programReady = true
		}
	}
}

// Inject applies a fault, acknowledgement or repair directive.
func (p *Plant) Inject(d protocol.Inject) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch d.Action {
	case protocol.InjectLevelStuck:
		v := d.Value
		p.levelStuck = &v
	case protocol.InjectLevelOffset:
		p.levelOffset = d.Value
	case protocol.InjectSteamStuck:
		v := d.Value
		p.steamStuck = &v
	case protocol.InjectPumpOn:
		p.pumpFaults[d.Pump] = pumpStuckOn
	case protocol.InjectPumpOff:
		p.pumpFaults[d.Pump] = pumpStuckOff
	case protocol.InjectPumpReduced:
		p.pumpFaults[d.Pump] = pumpReduced
	case protocol.InjectPumpTx:
		p.pumpTxLie[d.Pump] = true
	case protocol.InjectControlStuck:
		p.ctrlStuck[d.Pump] = true
		p.ctrlFrozen[d.Pump] = p.pumpDelivers(d.Pump) > 0
	case protocol.InjectValveOpen:
		p.valveStuck = true
	case protocol.InjectAck:
		return p.queueAck(d)
	case protocol.InjectRepair:
		return p.repair(d)
	case protocol.InjectClear:
		p.clearFaults()
	default:
		return fmt.Errorf("plantsim: unknown inject action %q", d.Action)
	}
	return nil
}

// queueAck schedules the plant's acknowledgement of a failure detection for
// the next sensor bundle.
func (p *Plant) queueAck(d protocol.Inject) error {
	switch d.Peripheral {
	case "level":
		p.queued = append(p.queued, protocol.Message{Kind: protocol.KindLevelFailureAck})
	case "steam":
		p.queued = append(p.queued, protocol.Message{Kind: protocol.KindSteamFailureAck})
	case "pump":
		p.queued = append(p.queued, protocol.Message{Kind: protocol.KindPumpFailureAck, Pump: d.Pump})
	case "pump_control":
		p.queued = append(p.queued, protocol.Message{Kind: protocol.KindPumpControlFailureAck, Pump: d.Pump})
	case "valve":
		// The valve has no detection message to acknowledge.
	default:
		return fmt.Errorf("plantsim: unknown peripheral %q", d.Peripheral)
	}
	return nil
}

// repair clears the physical fault and schedules the REPAIRED message.
func (p *Plant) repair(d protocol.Inject) error {
	switch d.Peripheral {
	case "level":
		p.levelStuck = nil
		p.levelOffset = 0
		p.queued = append(p.queued, protocol.Message{Kind: protocol.KindLevelRepaired})
	case "steam":
		p.steamStuck = nil
		p.queued = append(p.queued, protocol.Message{Kind: protocol.KindSteamRepaired})
	case "pump":
		p.pumpFaults[d.Pump] = pumpHealthy
		p.pumpTxLie[d.Pump] = false
		p.queued = append(p.queued, protocol.Message{Kind: protocol.KindPumpRepaired, Pump: d.Pump})
	case "pump_control":
		p.ctrlStuck[d.Pump] = false
		p.queued = append(p.queued, protocol.Message{Kind: protocol.KindPumpControlRepaired, Pump: d.Pump})
	case "valve":
		p.valveStuck = false
	default:
		return fmt.Errorf("plantsim: unknown peripheral %q", d.Peripheral)
	}
	return nil
}

func (p *Plant) clearFaults() {
	p.levelStuck = nil
	p.levelOffset = 0
	p.steamStuck = nil
	p.valveStuck = false
	for i := range p.pumpFaults {
		p.pumpFaults[i] = pumpHealthy
		p.pumpTxLie[i] = false
		p.ctrlStuck[i] = false
	}
}

// Snapshot is a point-in-time view of the true plant state.
type Snapshot struct {
	Tick      int64   `json:"tick"`
	Level     float64 `json:"level"`
	Steam     float64 `json:"steam"`
	Heating   bool    `json:"heating"`
	ValveOpen bool    `json:"valve_open"`
	PumpsOpen []bool  `json:"pumps_open"`
}

// Snapshot returns the true physical state: pump and valve faults are
// applied, reading faults are not.
func (p *Plant) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	open := make([]bool, len(p.pumpOpen))
	for i := range open {
		open[i] = p.pumpDelivers(i) > 0
	}
	return Snapshot{
		Tick:      p.tick,
		Level:     p.level,
		Steam:     p.steam,
		Heating:   p.heating,
		ValveOpen: p.valveEffective(),
		PumpsOpen: open,
	}
}

// Level returns the true water level.
func (p *Plant) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

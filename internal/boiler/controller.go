package boiler

import (
	"errors"

	"github.com/mbarbier/steamboiler/internal/config"
	"github.com/mbarbier/steamboiler/internal/mailbox"
	"github.com/mbarbier/steamboiler/internal/protocol"
)

// Controller is the per-tick feedback controller. It owns its state
// exclusively; the mailboxes are borrowed for the duration of one Tick call
// and never retained.
type Controller struct {
	cfg  config.Plant
	reg  *Registry
	mode Mode

	valveOpen bool
	cmd       []bool // last commanded state per pump
	window    Window

	sawWaiting    bool
	enteredRescue bool
	pending       *pendingDiag
	probe         *probeState

	last lastTick
}

// lastTick is the previous tick's bookkeeping, overwritten at tick end.
type lastTick struct {
	valid        bool
	steam        float64 // last trusted steam reading
	level        float64
	wasRescue    bool
	valveWasOpen bool
	pumpsOpen    []int // pumps commanded open, candidates for the reduced probe
}

// pendingDiag carries an ambiguous pump/controller mismatch (truth-table
// case where the controller disagrees with us but the pump agrees) across
// one tick for the drift direction to disambiguate.
type pendingDiag struct {
	pump      int
	commanded bool
	reported  bool // the controller's claim at defer time
}

// probeState tracks the reduced-capacity probe: candidates are tried one at
// a time, each opened alone with a full-capacity expectation.
type probeState struct {
	candidates []int
	idx        int
	window     Window
	armed      bool // commands for the current candidate have been issued
}

// New creates a controller in WAITING mode for the given plant.
func New(cfg config.Plant) *Controller {
	return &Controller{
		cfg:  cfg,
		reg:  NewRegistry(cfg.PumpCount),
		mode: ModeWaiting,
		cmd:  make([]bool, cfg.PumpCount),
	}
}

// Mode returns the current operating mode.
func (c *Controller) Mode() Mode { return c.mode }

// ValveOpen returns the controller's view of the evacuation valve.
func (c *Controller) ValveOpen() bool { return c.valveOpen }

// Expectation returns the current prediction window.
func (c *Controller) Expectation() Window { return c.window }

// Commanded returns the last commanded state per pump.
func (c *Controller) Commanded() []bool {
	out := make([]bool, len(c.cmd))
	copy(out, c.cmd)
	return out
}

// Faults returns the fault registry for inspection.
func (c *Controller) Faults() *Registry { return c.reg }

// sensors is one tick's extracted inbound traffic.
type sensors struct {
	level float64
	steam float64
	pump  []bool
	ctrl  []bool

	waiting    bool
	unitsReady bool

	levelAck, steamAck       bool
	pumpAcks, ctrlAcks       []protocol.Message
	levelRepaired            bool
	steamRepaired            bool
	pumpRepairs, ctrlRepairs []protocol.Message
}

// Tick consumes one inbound mailbox, fills the outbound mailbox and advances
// the controller state. Exactly one MODE message is emitted per call; after
// an emergency stop that is the only thing ever emitted again.
func (c *Controller) Tick(in, out *mailbox.Box) Mode {
	if c.mode != ModeEmergencyStop {
		c.tick(in, out)
	}
	if c.mode != ModeEmergencyStop {
		c.emitDetections(out)
	}
	out.Send(protocol.Mode(c.mode.String()))
	return c.mode
}

// tick runs steps 1-8 and 10 of the per-tick procedure. The MODE emission
// (step 9) belongs to Tick so that every path produces exactly one.
func (c *Controller) tick(in, out *mailbox.Box) {
	s, ok := c.intake(in)
	if !ok {
		c.mode = ModeEmergencyStop
		return
	}

	if c.probe != nil && c.probe.armed {
		c.resolveProbe(s)
	}
	if c.reg.Faulty(PeripheralValve) && !c.reg.Faulty(PeripheralLevel) {
		c.valveReturnCheck(s)
	}

	if c.mode == ModeNormal || c.mode == ModeDegraded || c.mode == ModeRescue {
		c.detect(s)
		if c.mode == ModeDegraded || c.mode == ModeRescue {
			c.handshake(s, out)
		}
	}
	if c.mode == ModeEmergencyStop {
		return
	}

	switch c.mode {
	case ModeWaiting:
		c.tickWaiting(s, out)
	case ModeReady:
		c.tickReady(s, out)
	case ModeNormal, ModeDegraded:
		c.tickOperating(s, out)
	case ModeRescue:
		c.tickRescue(s, out)
	}
	if c.mode == ModeEmergencyStop {
		return
	}

	if c.mode == ModeNormal || c.mode == ModeDegraded || c.mode == ModeRescue {
		c.safetyCheck(s)
	}
	if c.mode == ModeEmergencyStop {
		return
	}

	c.recordLast(s)
}

// intake extracts the tick's required readings and optional handshake
// traffic. A missing reading, a duplicate, or a wrong multiplicity is a
// transmission failure; intake reports it by returning ok=false.
func (c *Controller) intake(in *mailbox.Box) (*sensors, bool) {
	s := &sensors{
		pump: make([]bool, c.cfg.PumpCount),
		ctrl: make([]bool, c.cfg.PumpCount),
	}

	levelMsg, err := in.ExtractUnique(protocol.KindLevel)
	if err != nil {
		return nil, false
	}
	s.level = levelMsg.Value

	steamMsg, err := in.ExtractUnique(protocol.KindSteam)
	if err != nil {
		return nil, false
	}
	s.steam = steamMsg.Value

	for i := 0; i < c.cfg.PumpCount; i++ {
		pm, err := in.ExtractUniqueFor(protocol.KindPumpState, i)
		if err != nil {
			return nil, false
		}
		s.pump[i] = pm.Open

		cm, err := in.ExtractUniqueFor(protocol.KindPumpControlState, i)
		if err != nil {
			return nil, false
		}
		s.ctrl[i] = cm.Open
	}

	var ok bool
	if s.waiting, ok = c.extractFlag(in, protocol.KindBoilerWaiting); !ok {
		return nil, false
	}
	if s.unitsReady, ok = c.extractFlag(in, protocol.KindPhysicalUnitsReady); !ok {
		return nil, false
	}
	if s.levelAck, ok = c.extractFlag(in, protocol.KindLevelFailureAck); !ok {
		return nil, false
	}
	if s.steamAck, ok = c.extractFlag(in, protocol.KindSteamFailureAck); !ok {
		return nil, false
	}
	if s.levelRepaired, ok = c.extractFlag(in, protocol.KindLevelRepaired); !ok {
		return nil, false
	}
	if s.steamRepaired, ok = c.extractFlag(in, protocol.KindSteamRepaired); !ok {
		return nil, false
	}

	s.pumpAcks = in.ExtractAllOfKind(protocol.KindPumpFailureAck)
	s.ctrlAcks = in.ExtractAllOfKind(protocol.KindPumpControlFailureAck)
	s.pumpRepairs = in.ExtractAllOfKind(protocol.KindPumpRepaired)
	s.ctrlRepairs = in.ExtractAllOfKind(protocol.KindPumpControlRepaired)

	for _, m := range append(append([]protocol.Message{}, s.pumpAcks...), s.pumpRepairs...) {
		if m.Pump < 0 || m.Pump >= c.cfg.PumpCount {
			return nil, false
		}
	}
	for _, m := range append(append([]protocol.Message{}, s.ctrlAcks...), s.ctrlRepairs...) {
		if m.Pump < 0 || m.Pump >= c.cfg.PumpCount {
			return nil, false
		}
	}
	return s, true
}

// extractFlag pulls an optional marker message: present at most once per
// tick. A duplicate is a transmission failure.
func (c *Controller) extractFlag(in *mailbox.Box, kind protocol.Kind) (present, ok bool) {
	_, err := in.ExtractUnique(kind)
	if err == nil {
		return true, true
	}
	if errors.Is(err, mailbox.ErrMissing) {
		return false, true
	}
	return false, false
}

// tickWaiting drives the initial fill: drain when over-filled, pump when
// under-filled, and hand over with PROGRAM_READY once inside the band.
func (c *Controller) tickWaiting(s *sensors, out *mailbox.Box) {
	if s.waiting {
		c.sawWaiting = true
	}
	if !c.sawWaiting {
		return
	}

	// Nonsense readings before startup are not diagnosable, only fatal.
	if s.level < 0 || s.level > c.cfg.Capacity || s.steam != 0 {
		c.mode = ModeEmergencyStop
		return
	}
	// The valve was open all of last tick; a level that did not drop means
	// the level sensor or the valve is dead before we ever started.
	if c.last.valid && c.last.valveWasOpen && s.level >= c.last.level {
		c.mode = ModeEmergencyStop
		return
	}

	dt := config.TickSeconds
	switch {
	case s.level > c.cfg.NormalMax:
		c.commandPumps(make([]bool, c.cfg.PumpCount), out)
		if !c.valveOpen {
			c.toggleValve(out)
		}
		mid := s.level - dt*c.cfg.ValveRate
		c.window = Window{Lo: mid - Epsilon, Hi: mid + Epsilon, Known: true}

	case s.level < c.cfg.NormalMin:
		k := c.fillCount(s.level)
		open := make([]bool, c.cfg.PumpCount)
		for i := 0; i < k; i++ {
			open[i] = true
		}
		c.commandPumps(open, out)
		if c.valveOpen {
			c.toggleValve(out)
		}
		mid := s.level + c.cfg.PumpVolume()*float64(k)
		c.window = Window{Lo: mid - Epsilon, Hi: mid + Epsilon, Known: true}

	default:
		c.commandPumps(make([]bool, c.cfg.PumpCount), out)
		if c.valveOpen {
			c.toggleValve(out)
		}
		out.Send(protocol.Message{Kind: protocol.KindProgramReady})
		c.mode = ModeReady
		// Heating may begin any time now; leave room for a full tick of steam.
		c.window = Window{Lo: s.level - dt*c.cfg.SteamMax - Epsilon, Hi: s.level + Epsilon, Known: true}
	}
}

// tickReady waits for the plant's PHYSICAL_UNITS_READY and then starts
// operating immediately on the same tick.
func (c *Controller) tickReady(s *sensors, out *mailbox.Box) {
	if !s.unitsReady {
		dt := config.TickSeconds
		c.window = Window{Lo: s.level - dt*c.cfg.SteamMax - Epsilon, Hi: s.level + Epsilon, Known: true}
		return
	}
	c.mode = ModeNormal
	c.tickOperating(s, out)
}

// tickOperating runs the planner against the measured level.
func (c *Controller) tickOperating(s *sensors, out *mailbox.Box) {
	steam := c.effectiveSteam(s)
	k, w := c.plan(s.level, s.level, steam, c.reg.LockedOn(), c.openableCount())
	open, w := c.selectPumps(k, w)
	c.commandPumps(open, out)
	c.window = w
}

// tickRescue runs the planner against the previous prediction window, or
// the reduced-capacity probe when one is in progress.
func (c *Controller) tickRescue(s *sensors, out *mailbox.Box) {
	if c.probe != nil {
		c.tickProbe(s, out)
		return
	}
	if !c.window.Known {
		// Nothing to navigate on.
		c.mode = ModeEmergencyStop
		return
	}
	steam := c.effectiveSteam(s)
	k, w := c.plan(c.window.Lo, c.window.Hi, steam, c.reg.LockedOn(), c.openableCount())
	open, w := c.selectPumps(k, w)
	c.commandPumps(open, out)
	c.window = w
}

// tickProbe opens exactly the current candidate and predicts the next level
// assuming the candidate delivers full capacity. The next tick's resolver
// reads the verdict off that window.
func (c *Controller) tickProbe(s *sensors, out *mailbox.Box) {
	cand := c.probe.candidates[c.probe.idx]
	open := make([]bool, c.cfg.PumpCount)
	open[cand] = true
	c.commandPumps(open, out)

	dt := config.TickSeconds
	steam := c.effectiveSteam(s)
	w := Window{
		Lo:    c.window.Lo + c.cfg.PumpVolume() - dt*c.cfg.SteamMax - Epsilon,
		Hi:    c.window.Hi + c.cfg.PumpVolume() - dt*steam + Epsilon,
		Known: true,
	}
	c.probe.window = w
	c.probe.armed = true
	c.window = w
}

// resolveProbe judges the candidate probed last tick. A level under the
// full-capacity floor convicts the candidate; otherwise the probe advances,
// and exhaustion leaves the anomaly with the level sensor.
func (c *Controller) resolveProbe(s *sensors) {
	p := c.probe
	cand := p.candidates[p.idx]

	if s.level < p.window.Lo {
		c.reg.Fail(PumpSlot(cand), FaultReduced)
		c.reg.Clear(PeripheralLevel)
		c.probe = nil
		// The sensor is vindicated; re-anchor the window on its reading.
		c.window = Window{Lo: s.level - Epsilon, Hi: s.level + Epsilon, Known: true}
		c.mode = c.recomputeMode()
		return
	}

	p.idx++
	if p.idx >= len(p.candidates) {
		// No candidate confirms: the level sensor owns the anomaly.
		c.probe = nil
	}
}

// valveReturnCheck clears the valve fault once the measured level matches
// the no-leak prediction again.
func (c *Controller) valveReturnCheck(s *sensors) {
	if !c.window.Known {
		return
	}
	leak := config.TickSeconds * c.cfg.ValveRate
	if s.level >= c.window.Lo+leak-Epsilon && s.level <= c.window.Hi+leak+Epsilon {
		c.reg.Clear(PeripheralValve)
		// The reading now matches the no-leak prediction, which is the old
		// window shifted up by a tick of evacuation.
		c.window.Lo += leak
		c.window.Hi += leak
		c.mode = c.recomputeMode()
	}
}

// safetyCheck stops the boiler when the chosen commands cannot keep the
// level provably inside the safety band.
func (c *Controller) safetyCheck(s *sensors) {
	if c.window.Hi > c.cfg.LimitMax || c.window.Lo < c.cfg.LimitMin {
		c.mode = ModeEmergencyStop
		return
	}

	if c.mode != ModeRescue {
		// One-pump margin: a single pump's worth of error must not be able
		// to cross the safety band.
		if s.level-c.cfg.PumpRate <= c.cfg.LimitMin || s.level+c.cfg.PumpRate >= c.cfg.LimitMax {
			c.mode = ModeEmergencyStop
		}
		return
	}

	steam := c.effectiveSteam(s)
	couldRun := c.cfg.PumpCount - c.reg.LockedOff()
	if float64(couldRun)*c.cfg.PumpRate < steam {
		c.mode = ModeEmergencyStop
		return
	}
	if float64(c.reg.LockedOn())*c.cfg.PumpRate > steam {
		c.mode = ModeEmergencyStop
	}
}

// handshake processes acknowledgements and repairs. Unmatched traffic is a
// no-op; a repair only lands on an acknowledged fault.
func (c *Controller) handshake(s *sensors, out *mailbox.Box) {
	if s.levelAck {
		c.reg.Ack(PeripheralLevel)
	}
	if s.steamAck {
		c.reg.Ack(PeripheralSteam)
	}
	for _, m := range s.pumpAcks {
		c.reg.Ack(PumpSlot(m.Pump))
	}
	for _, m := range s.ctrlAcks {
		c.reg.Ack(ControlSlot(c.cfg.PumpCount, m.Pump))
	}

	if s.levelRepaired && c.reg.Faulty(PeripheralLevel) && c.reg.Acked(PeripheralLevel) {
		c.reg.Clear(PeripheralLevel)
		c.probe = nil
		out.Send(protocol.Message{Kind: protocol.KindLevelRepairedAck})
	}
	if s.steamRepaired && c.reg.Faulty(PeripheralSteam) && c.reg.Acked(PeripheralSteam) {
		c.reg.Clear(PeripheralSteam)
		out.Send(protocol.Message{Kind: protocol.KindSteamRepairedAck})
	}
	for _, m := range s.pumpRepairs {
		slot := PumpSlot(m.Pump)
		if c.reg.Faulty(slot) && c.reg.Acked(slot) {
			c.reg.Clear(slot)
			// Adopt whatever state the repaired pump reports.
			c.cmd[m.Pump] = s.pump[m.Pump]
			out.Send(protocol.Message{Kind: protocol.KindPumpRepairedAck, Pump: m.Pump})
		}
	}
	for _, m := range s.ctrlRepairs {
		slot := ControlSlot(c.cfg.PumpCount, m.Pump)
		if c.reg.Faulty(slot) && c.reg.Acked(slot) {
			c.reg.Clear(slot)
			out.Send(protocol.Message{Kind: protocol.KindPumpControlRepairedAck, Pump: m.Pump})
		}
	}

	c.mode = c.recomputeMode()
}

// recomputeMode derives the operating mode from the fault registry after a
// slot changed outside the detector.
func (c *Controller) recomputeMode() Mode {
	if c.mode == ModeEmergencyStop {
		return ModeEmergencyStop
	}
	if c.reg.Faulty(PeripheralLevel) {
		return ModeRescue
	}
	if c.reg.AnyFault() {
		return ModeDegraded
	}
	return ModeNormal
}

// emitDetections re-emits the failure report for every unacknowledged fault
// until the plant acknowledges it. The valve has no detection message; its
// fault is cleared by the valve-return check alone.
func (c *Controller) emitDetections(out *mailbox.Box) {
	if c.reg.Faulty(PeripheralLevel) && !c.reg.Acked(PeripheralLevel) {
		out.Send(protocol.Message{Kind: protocol.KindLevelFailureDetection})
	}
	if c.reg.Faulty(PeripheralSteam) && !c.reg.Acked(PeripheralSteam) {
		out.Send(protocol.Message{Kind: protocol.KindSteamFailureDetection})
	}
	for i := 0; i < c.cfg.PumpCount; i++ {
		if c.reg.Faulty(PumpSlot(i)) && !c.reg.Acked(PumpSlot(i)) {
			out.Send(protocol.Message{Kind: protocol.KindPumpFailureDetection, Pump: i})
		}
		ctrl := ControlSlot(c.cfg.PumpCount, i)
		if c.reg.Faulty(ctrl) && !c.reg.Acked(ctrl) {
			out.Send(protocol.Message{Kind: protocol.KindPumpControlFailureDetection, Pump: i})
		}
	}
}

// commandPumps emits OPEN/CLOSE for every controllable pump whose desired
// state changed and records the commanded set. Stuck pumps are left alone;
// their recorded state is whatever they are stuck at.
func (c *Controller) commandPumps(open []bool, out *mailbox.Box) {
	for i := 0; i < c.cfg.PumpCount; i++ {
		switch c.reg.Kind(PumpSlot(i)) {
		case FaultStuckOn, FaultStuckOff:
			continue
		}
		if c.cmd[i] == open[i] {
			continue
		}
		if open[i] {
			out.Send(protocol.OpenPump(i))
		} else {
			out.Send(protocol.ClosePump(i))
		}
		c.cmd[i] = open[i]
	}
}

// toggleValve emits the VALVE toggle and flips the tracked state.
func (c *Controller) toggleValve(out *mailbox.Box) {
	out.Send(protocol.Valve())
	c.valveOpen = !c.valveOpen
}

// effectiveSteam returns the steam rate the planner may trust: the reading,
// or the last trusted reading while the steam sensor is faulted.
func (c *Controller) effectiveSteam(s *sensors) float64 {
	if c.reg.Faulty(PeripheralSteam) {
		return c.last.steam
	}
	return s.steam
}

// recordLast snapshots the tick for the next one.
func (c *Controller) recordLast(s *sensors) {
	var open []int
	for i, on := range c.cmd {
		if on {
			open = append(open, i)
		}
	}

	steam := c.last.steam
	if !c.reg.Faulty(PeripheralSteam) {
		steam = s.steam
	}

	c.last = lastTick{
		valid:        true,
		steam:        steam,
		level:        s.level,
		wasRescue:    c.enteredRescue,
		valveWasOpen: c.valveOpen,
		pumpsOpen:    open,
	}
	c.enteredRescue = false
}

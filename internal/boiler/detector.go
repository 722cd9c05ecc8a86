package boiler

import (
	"math"

	"github.com/mbarbier/steamboiler/internal/config"
)

// detect is the per-tick fault reasoner. It resolves any diagnosis deferred
// from the previous tick, re-examines a fresh rescue entry against the
// valve-leak and half-capacity hypotheses, checks the steam sensor, walks
// the pump/controller truth table, and finally implicates the level sensor
// when every pump is consistent but the reading is not.
//
// At most one new implication is committed per tick; when two anomalies
// arrive together the second surfaces on a later tick, after the first has
// been dealt with.
func (c *Controller) detect(s *sensors) {
	if c.pending != nil {
		if c.resolvePending(s) {
			// One implication per tick; the rest waits.
			return
		}
	}

	if c.last.wasRescue && c.mode == ModeRescue && c.probe == nil {
		c.rescueDisambiguate(s)
		if c.mode != ModeRescue {
			// Reattributed; this tick's anomaly is spoken for.
			return
		}
	}

	if !c.reg.Faulty(PeripheralSteam) {
		if s.steam < 0 || s.steam > c.cfg.SteamMax || (c.last.valid && s.steam < c.last.steam) {
			if c.mode == ModeRescue {
				c.mode = ModeEmergencyStop
				return
			}
			c.reg.Fail(PeripheralSteam, FaultBroken)
			c.mode = ModeDegraded
			return
		}
	}

	normal := c.window.Contains(s.level)
	for i := 0; i < c.cfg.PumpCount; i++ {
		if c.diagnosePump(i, s, normal) {
			return
		}
		if c.mode == ModeEmergencyStop {
			return
		}
	}

	// Every pump and controller is consistent: an abnormal reading can only
	// be the level sensor.
	if c.mode != ModeRescue && c.window.Known && !normal {
		kind := FaultOffset
		if s.level < c.cfg.LimitMin || s.level > c.cfg.LimitMax {
			kind = FaultBroken // clear break, no point second-guessing the sensor
		}
		c.reg.Fail(PeripheralLevel, kind)
		c.mode = ModeRescue
		c.enteredRescue = true
	}
}

// diagnosePump applies the truth table to pump i. Returns true when a new
// implication (including a deferral) was committed this tick.
func (c *Controller) diagnosePump(i int, s *sensors, normal bool) bool {
	switch c.reg.Kind(PumpSlot(i)) {
	case FaultStuckOn, FaultStuckOff, FaultTxWrong:
		// State forced or reports known-unreliable; nothing new to learn.
		return false
	}

	cmd := c.cmd[i]
	p := s.pump[i]
	ctrl := s.ctrl[i]
	ctrlSlot := ControlSlot(c.cfg.PumpCount, i)

	if c.reg.Faulty(ctrlSlot) {
		// The controller's report is noise; judge the pump on its own word.
		if p == cmd {
			return false
		}
		if c.mode == ModeRescue {
			c.mode = ModeEmergencyStop
			return false
		}
		if normal {
			c.failPump(i, FaultTxWrong)
		} else {
			c.failPumpByDirection(i, s.level)
		}
		return true
	}

	if ctrl == cmd && p == cmd {
		return false
	}

	if c.mode == ModeRescue {
		return c.diagnosePumpRescue(i, cmd, p, ctrl)
	}

	switch {
	case ctrl == cmd && p != cmd:
		if normal {
			c.failPump(i, FaultTxWrong) // transmission lied, physics agrees with us
		} else {
			c.failPumpByDirection(i, s.level)
		}

	case p == ctrl:
		// Both reports agree the pump sits in an uncommanded state.
		c.failPump(i, stuckKind(ctrl))
		c.cmd[i] = ctrl

	default: // ctrl != cmd, p == cmd
		if !normal {
			if s.level > c.window.Hi {
				c.failPump(i, FaultStuckOn)
				c.cmd[i] = true
			} else {
				c.failPump(i, FaultStuckOff)
				c.cmd[i] = false
			}
			return true
		}
		// Ambiguous: the controller disagrees with us but the pump claims
		// obedience and the level is unremarkable. Defer to next tick's
		// drift.
		c.pending = &pendingDiag{pump: i, commanded: cmd, reported: ctrl}
	}
	return true
}

// diagnosePumpRescue judges pump i without a trustworthy level: only
// report-versus-report evidence is available. A conviction here never
// escalates beyond RESCUE; the rescue safety margins stop the boiler when
// the stuck capacity becomes unrecoverable.
func (c *Controller) diagnosePumpRescue(i int, cmd, p, ctrl bool) bool {
	switch {
	case ctrl != cmd && p == ctrl:
		c.reg.Fail(PumpSlot(i), stuckKind(ctrl))
		c.cmd[i] = ctrl
	case ctrl == cmd && p != cmd:
		c.reg.Fail(PumpSlot(i), FaultTxWrong)
	default: // ctrl != cmd, p == cmd
		c.reg.Fail(ControlSlot(c.cfg.PumpCount, i), FaultTxWrong)
	}
	return true
}

// resolvePending consumes the previous tick's deferred diagnosis. A level
// inside the window clears the pump: the controller's transmission was the
// liar. Outside it, the pump did not follow the command and sits where the
// controller said it was. Returns true when a conviction was committed.
func (c *Controller) resolvePending(s *sensors) bool {
	p := *c.pending
	c.pending = nil

	if c.reg.Faulty(PumpSlot(p.pump)) {
		return false
	}

	if c.window.Contains(s.level) {
		c.reg.Fail(ControlSlot(c.cfg.PumpCount, p.pump), FaultTxWrong)
		c.escalate()
		return true
	}
	c.reg.Fail(PumpSlot(p.pump), stuckKind(p.reported))
	c.cmd[p.pump] = p.reported
	c.escalate()
	return true
}

// rescueDisambiguate runs on the tick after a subtle rescue entry. Under
// the hypothesis that the level sensor told the truth, the one-tick volume
// balance either matches a leaking valve, matches one open pump at half
// capacity (start the probe), or matches neither and the sensor keeps the
// blame.
func (c *Controller) rescueDisambiguate(s *sensors) {
	if c.reg.Kind(PeripheralLevel) != FaultOffset {
		return
	}

	dt := config.TickSeconds
	avg := (c.last.steam + s.steam) / 2
	predFull := c.last.level + c.cfg.PumpVolume()*float64(len(c.last.pumpsOpen)) - dt*avg

	predLeak := predFull - dt*c.cfg.ValveRate
	if math.Abs(s.level-predLeak) <= Epsilon {
		c.reg.Clear(PeripheralLevel)
		c.reg.Fail(PeripheralValve, FaultBroken)
		// The reading is explained; keep the window consistent with it.
		c.window = Window{Lo: predLeak - Epsilon, Hi: predLeak + Epsilon, Known: true}
		c.mode = ModeDegraded
		return
	}

	if n := len(c.last.pumpsOpen); n > 0 {
		predHalf := predFull - c.cfg.PumpVolume()/2
		if math.Abs(s.level-predHalf) <= Epsilon {
			cands := make([]int, n)
			copy(cands, c.last.pumpsOpen)
			c.probe = &probeState{candidates: cands}
		}
	}
}

// failPump records a pump fault and escalates the mode.
func (c *Controller) failPump(i int, kind FaultKind) {
	c.reg.Fail(PumpSlot(i), kind)
	c.escalate()
}

// failPumpByDirection convicts pump i of the stuck state the level drift
// points at.
func (c *Controller) failPumpByDirection(i int, level float64) {
	if level > c.cfg.Target() {
		c.failPump(i, FaultStuckOn)
		c.cmd[i] = true
	} else {
		c.failPump(i, FaultStuckOff)
		c.cmd[i] = false
	}
}

// escalate demotes NORMAL to DEGRADED after a non-level conviction. RESCUE
// convictions are handled by the rescue-specific paths; DEGRADED absorbs
// additional faults unchanged.
func (c *Controller) escalate() {
	if c.mode == ModeNormal {
		c.mode = ModeDegraded
	}
}

// stuckKind maps a reported state to the matching stuck fault.
func stuckKind(open bool) FaultKind {
	if open {
		return FaultStuckOn
	}
	return FaultStuckOff
}

package boiler

import (
	"testing"

	"github.com/mbarbier/steamboiler/internal/config"
	"github.com/mbarbier/steamboiler/internal/protocol"
)

func openCount(c *Controller) int {
	n := 0
	for _, on := range c.Commanded() {
		if on {
			n++
		}
	}
	return n
}

// TestValveLeakReclassification walks the full valve story: a leaking valve
// first looks like a subtle level fault, the next tick's volume balance
// pins it on the valve, and the return check later clears it without any
// repair handshake.
func TestValveLeakReclassification(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)

	// Steam up, pump closes: window [474.7, 505.3].
	out := tick(t, c, newFeed(c, 525, 4))
	if modeOf(t, out) != protocol.ModeNormal {
		t.Fatalf("mode = %s, want normal", modeOf(t, out))
	}

	// The valve starts leaking: the reading lands under the floor while
	// every pump report is consistent. The level sensor takes the blame.
	out = tick(t, c, newFeed(c, 450, 6))
	if modeOf(t, out) != protocol.ModeRescue {
		t.Fatalf("mode = %s, want rescue on the anomaly", modeOf(t, out))
	}
	if countKind(out, protocol.KindLevelFailureDetection) != 1 {
		t.Fatal("expected LEVEL_FAILURE_DETECTION on rescue entry")
	}
	if got := c.Faults().Kind(PeripheralLevel); got != FaultOffset {
		t.Fatalf("level fault = %v, want offset (subtle)", got)
	}

	// Next tick the one-tick volume balance matches a leaking valve
	// exactly: reattribute and demote to DEGRADED.
	n := openCount(c)
	avg := (6.0 + 8.0) / 2
	predLeak := 450 + 25*float64(n) - 5*avg - 50
	out = tick(t, c, newFeed(c, predLeak, 8))
	if modeOf(t, out) != protocol.ModeDegraded {
		t.Fatalf("mode = %s, want degraded after valve reclassification", modeOf(t, out))
	}
	if c.Faults().Faulty(PeripheralLevel) {
		t.Fatal("level slot must be cleared by the reclassification")
	}
	if got := c.Faults().Kind(PeripheralValve); got != FaultBroken {
		t.Fatalf("valve fault = %v, want broken", got)
	}
	// The valve has no failure-detection message kind.
	if len(out.Messages()) != countKind(out, protocol.KindMode)+countKind(out, protocol.KindOpenPump)+countKind(out, protocol.KindClosePump) {
		t.Fatalf("unexpected extra messages after reclassification: %v", out.Messages())
	}

	// The valve seats again: the reading matches the no-leak prediction
	// (old window shifted up by one tick of evacuation) and the fault
	// clears with no handshake.
	w := c.Expectation()
	out = tick(t, c, newFeed(c, w.Mid()+50, 9))
	if modeOf(t, out) != protocol.ModeNormal {
		t.Fatalf("mode = %s, want normal after the valve returns", modeOf(t, out))
	}
	if c.Faults().Faulty(PeripheralValve) {
		t.Fatal("valve slot must be cleared by the return check")
	}
}

// rescueWithHalfPump drives the controller into the reduced-capacity probe:
// boot, steam at maximum, pump 0 silently delivering half.
func rescueWithHalfPump(t *testing.T, c *Controller) {
	t.Helper()

	// Steam jumps to max; planner keeps one pump open, window [499.7, 500.3].
	out := tick(t, c, newFeed(c, 525, 10))
	if modeOf(t, out) != protocol.ModeNormal {
		t.Fatalf("mode = %s, want normal", modeOf(t, out))
	}

	// Pump 0 delivers half: 525 + 12.5 - 50 = 487.5, under the floor.
	out = tick(t, c, newFeed(c, 487.5, 10))
	if modeOf(t, out) != protocol.ModeRescue {
		t.Fatalf("mode = %s, want rescue on the shortfall", modeOf(t, out))
	}
	if got := openCount(c); got != 2 {
		t.Fatalf("rescue planner opened %d pumps, want 2", got)
	}

	// The balance matches one open pump at half capacity: probe starts and
	// opens exactly the first candidate.
	out = tick(t, c, newFeed(c, 475, 10))
	if modeOf(t, out) != protocol.ModeRescue {
		t.Fatalf("mode = %s, want rescue while probing", modeOf(t, out))
	}
	if got := openCount(c); got != 1 {
		t.Fatalf("probe opened %d pumps, want exactly one candidate", got)
	}
	if !c.Commanded()[0] {
		t.Fatal("probe should try pump 0 first")
	}
}

func TestReducedProbeConvictsPump(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)
	rescueWithHalfPump(t, c)

	// Probed alone at assumed full capacity, pump 0 under-delivers again:
	// 475 + 12.5 - 50 = 437.5, below the probe floor. Conviction.
	out := tick(t, c, newFeed(c, 437.5, 10))
	if modeOf(t, out) != protocol.ModeDegraded {
		t.Fatalf("mode = %s, want degraded after conviction", modeOf(t, out))
	}
	if !hasPumpMsg(out, protocol.KindPumpFailureDetection, 0) {
		t.Fatal("expected PUMP_FAILURE_DETECTION for the reduced pump")
	}
	if got := c.Faults().Kind(PumpSlot(0)); got != FaultReduced {
		t.Fatalf("pump 0 fault = %v, want reduced", got)
	}
	if c.Faults().Faulty(PeripheralLevel) {
		t.Fatal("level slot must be cleared once the pump takes the blame")
	}
	if countKind(out, protocol.KindLevelFailureDetection) != 0 {
		t.Fatal("no level detection may be emitted after reattribution")
	}
}

func TestReducedProbeExhaustsToLevelSensor(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)
	rescueWithHalfPump(t, c)

	// Pump 0 behaves under probe: advance to candidate 1.
	out := tick(t, c, newFeed(c, 475, 10))
	if modeOf(t, out) != protocol.ModeRescue {
		t.Fatalf("mode = %s, want rescue while probing", modeOf(t, out))
	}
	if !c.Commanded()[1] || c.Commanded()[0] {
		t.Fatalf("probe should move on to pump 1, commanded = %v", c.Commanded())
	}

	// Pump 1 behaves too: no candidate confirms, the level sensor keeps
	// the fault and RESCUE is retained.
	out = tick(t, c, newFeed(c, 450, 10))
	if modeOf(t, out) != protocol.ModeRescue {
		t.Fatalf("mode = %s, want rescue retained after probe exhaustion", modeOf(t, out))
	}
	if got := c.Faults().Kind(PeripheralLevel); got != FaultOffset {
		t.Fatalf("level fault = %v, want offset retained", got)
	}
	if countKind(out, protocol.KindLevelFailureDetection) != 1 {
		t.Fatal("level detection should still be retransmitted")
	}
}

func TestRescueWithoutWindowStops(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)

	// Force rescue, then blank the window to model an impossible
	// navigation state.
	tick(t, c, newFeed(c, 1000, 0))
	c.window = Window{}

	out := tick(t, c, newFeed(c, 1000, 0))
	if modeOf(t, out) != protocol.ModeEmergencyStop {
		t.Fatalf("mode = %s, want emergency_stop with nothing to navigate on", modeOf(t, out))
	}
}

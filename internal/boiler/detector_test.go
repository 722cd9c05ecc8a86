package boiler

import (
	"testing"

	"github.com/mbarbier/steamboiler/internal/config"
	"github.com/mbarbier/steamboiler/internal/protocol"
)

// After bootNormal: pump 0 commanded open, window [474.7, 525.3],
// last steam 0, last level 500.

func TestDetectPumpTransmissionWrong(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)

	// The pump delivered (level 525 is normal) but its state report lies.
	f := newFeed(c, 525, 0)
	f.pump[0] = false
	out := tick(t, c, f)

	if modeOf(t, out) != protocol.ModeDegraded {
		t.Fatalf("mode = %s, want degraded", modeOf(t, out))
	}
	if !hasPumpMsg(out, protocol.KindPumpFailureDetection, 0) {
		t.Fatal("expected PUMP_FAILURE_DETECTION for pump 0")
	}
	if got := c.Faults().Kind(PumpSlot(0)); got != FaultTxWrong {
		t.Fatalf("pump 0 fault = %v, want tx_wrong", got)
	}

	// An unacknowledged transmission-wrong pump must not be commanded.
	if c.openableCount() != 3 {
		t.Fatalf("openableCount = %d, want 3 while the fault is unacknowledged", c.openableCount())
	}
}

func TestDetectPumpFailureByDirection(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)

	// Report mismatch plus an abnormally low level: the pump never pumped.
	f := newFeed(c, 470, 0)
	f.pump[0] = false
	out := tick(t, c, f)

	if modeOf(t, out) != protocol.ModeDegraded {
		t.Fatalf("mode = %s, want degraded", modeOf(t, out))
	}
	if got := c.Faults().Kind(PumpSlot(0)); got != FaultStuckOff {
		t.Fatalf("pump 0 fault = %v, want stuck_off", got)
	}
	if c.Commanded()[0] {
		t.Fatal("commanded record should adopt the stuck-off state")
	}
}

func TestDetectPumpStuckByAgreeingReports(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)

	// Pump and controller both report closed against an open command. The
	// level is still normal (nothing was delivered, reading 500 fits).
	f := newFeed(c, 500, 0)
	f.pump[0] = false
	f.ctrl[0] = false
	out := tick(t, c, f)

	if modeOf(t, out) != protocol.ModeDegraded {
		t.Fatalf("mode = %s, want degraded", modeOf(t, out))
	}
	if !hasPumpMsg(out, protocol.KindPumpFailureDetection, 0) {
		t.Fatal("expected PUMP_FAILURE_DETECTION for pump 0")
	}
	if got := c.Faults().Kind(PumpSlot(0)); got != FaultStuckOff {
		t.Fatalf("pump 0 fault = %v, want stuck_off", got)
	}
	if c.Commanded()[0] {
		t.Fatal("commanded record should adopt the reported stuck state")
	}
}

func TestDetectPumpStuckOnAbnormalHigh(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)

	// Controller disagrees, pump claims obedience, level far above the
	// window: the pump is stuck open.
	f := newFeed(c, 530, 0)
	f.ctrl[0] = false
	out := tick(t, c, f)

	if modeOf(t, out) != protocol.ModeDegraded {
		t.Fatalf("mode = %s, want degraded", modeOf(t, out))
	}
	if got := c.Faults().Kind(PumpSlot(0)); got != FaultStuckOn {
		t.Fatalf("pump 0 fault = %v, want stuck_on", got)
	}
	if !c.Commanded()[0] {
		t.Fatal("commanded record should stay open for a stuck-on pump")
	}
}

func TestDeferredDiagnosisConvictsController(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)

	// Ambiguous: controller says closed, pump says open, level normal.
	f := newFeed(c, 525, 0)
	f.ctrl[0] = false
	out := tick(t, c, f)

	if modeOf(t, out) != protocol.ModeNormal {
		t.Fatalf("mode = %s, diagnosis should be deferred", modeOf(t, out))
	}
	if countKind(out, protocol.KindPumpFailureDetection)+countKind(out, protocol.KindPumpControlFailureDetection) != 0 {
		t.Fatal("no detection may be emitted on the deferral tick")
	}

	// Next tick the level stays inside the window: the pump evidently
	// obeyed, so the controller's transmission is at fault.
	w := c.Expectation()
	f = newFeed(c, w.Mid(), 0)
	f.ctrl[0] = false // same closed report; pump 0 is now commanded closed too
	out = tick(t, c, f)

	if modeOf(t, out) != protocol.ModeDegraded {
		t.Fatalf("mode = %s, want degraded", modeOf(t, out))
	}
	if !hasPumpMsg(out, protocol.KindPumpControlFailureDetection, 0) {
		t.Fatal("expected PUMP_CONTROL_FAILURE_DETECTION for pump 0")
	}
	if got := c.Faults().Kind(ControlSlot(4, 0)); got != FaultTxWrong {
		t.Fatalf("controller 0 fault = %v, want tx_wrong", got)
	}
}

func TestDeferredDiagnosisConvictsPump(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)

	f := newFeed(c, 525, 0)
	f.ctrl[0] = false
	tick(t, c, f)

	// Next tick the level drifts under the floor: the pump sat closed, as
	// the controller reported all along.
	w := c.Expectation()
	f = newFeed(c, w.Lo-5, 0)
	f.pump[0] = false
	f.ctrl[0] = false
	out := tick(t, c, f)

	if modeOf(t, out) != protocol.ModeDegraded {
		t.Fatalf("mode = %s, want degraded", modeOf(t, out))
	}
	if !hasPumpMsg(out, protocol.KindPumpFailureDetection, 0) {
		t.Fatal("expected PUMP_FAILURE_DETECTION for pump 0")
	}
	if got := c.Faults().Kind(PumpSlot(0)); got != FaultStuckOff {
		t.Fatalf("pump 0 fault = %v, want stuck_off", got)
	}
}

func TestSteamSensorNonsense(t *testing.T) {
	tests := []struct {
		name  string
		steam float64
	}{
		{"negative", -1},
		{"above_maximum", 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(config.Default())
			bootNormal(t, c)

			out := tick(t, c, newFeed(c, 525, tt.steam))
			if modeOf(t, out) != protocol.ModeDegraded {
				t.Fatalf("mode = %s, want degraded", modeOf(t, out))
			}
			if countKind(out, protocol.KindSteamFailureDetection) != 1 {
				t.Fatal("expected STEAM_FAILURE_DETECTION")
			}
			if got := c.Faults().Kind(PeripheralSteam); got != FaultBroken {
				t.Fatalf("steam fault = %v, want broken", got)
			}
		})
	}
}

func TestSteamMonotonicityViolation(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)

	tick(t, c, newFeed(c, 525, 4))

	// Steam can only grow while the sensor is healthy.
	w := c.Expectation()
	out := tick(t, c, newFeed(c, w.Mid(), 3))
	if modeOf(t, out) != protocol.ModeDegraded {
		t.Fatalf("mode = %s, want degraded on a steam reading below the last", modeOf(t, out))
	}
	if countKind(out, protocol.KindSteamFailureDetection) != 1 {
		t.Fatal("expected STEAM_FAILURE_DETECTION")
	}
}

func TestLevelSensorClearBreak(t *testing.T) {
	cfg := config.Default()
	c := New(cfg)
	bootNormal(t, c)

	// Sensor sticks at capacity: outside the safety band, no second-guessing.
	out := tick(t, c, newFeed(c, cfg.Capacity, 0))
	if modeOf(t, out) != protocol.ModeRescue {
		t.Fatalf("mode = %s, want rescue on the first broken tick", modeOf(t, out))
	}
	if countKind(out, protocol.KindLevelFailureDetection) != 1 {
		t.Fatal("expected LEVEL_FAILURE_DETECTION on the first broken tick")
	}
	if got := c.Faults().Kind(PeripheralLevel); got != FaultBroken {
		t.Fatalf("level fault = %v, want broken", got)
	}

	// The detection is re-emitted until acknowledged.
	out = tick(t, c, newFeed(c, cfg.Capacity, 0))
	if countKind(out, protocol.KindLevelFailureDetection) != 1 {
		t.Fatal("detection should repeat while unacknowledged")
	}

	// Acknowledge: retransmission stops.
	f := newFeed(c, cfg.Capacity, 0)
	f.extra = []protocol.Message{{Kind: protocol.KindLevelFailureAck}}
	out = tick(t, c, f)
	if countKind(out, protocol.KindLevelFailureDetection) != 0 {
		t.Fatal("detection must stop after the acknowledgement")
	}
	if modeOf(t, out) != protocol.ModeRescue {
		t.Fatalf("mode = %s, want rescue while broken", modeOf(t, out))
	}

	// Repair: the slot clears, REPAIRED_ACK goes out, mode recovers on the
	// same tick.
	f = newFeed(c, 500, 0)
	f.extra = []protocol.Message{{Kind: protocol.KindLevelRepaired}}
	out = tick(t, c, f)
	if countKind(out, protocol.KindLevelRepairedAck) != 1 {
		t.Fatal("expected LEVEL_REPAIRED_ACKNOWLEDGEMENT")
	}
	if modeOf(t, out) != protocol.ModeNormal {
		t.Fatalf("mode = %s, want normal after repair", modeOf(t, out))
	}
	if c.Faults().Faulty(PeripheralLevel) {
		t.Fatal("level slot must be cleared before the next tick")
	}
}

func TestPumpRepairHandshakeRoundTrip(t *testing.T) {
	c := New(config.Default())
	bootNormal(t, c)

	// Stuck-off conviction via agreeing reports.
	f := newFeed(c, 500, 0)
	f.pump[0] = false
	f.ctrl[0] = false
	tick(t, c, f)

	// Plant acknowledges.
	w := c.Expectation()
	f = newFeed(c, w.Mid(), 0)
	f.extra = []protocol.Message{{Kind: protocol.KindPumpFailureAck, Pump: 0}}
	out := tick(t, c, f)
	if countKind(out, protocol.KindPumpFailureDetection) != 0 {
		t.Fatal("detection must stop after the acknowledgement")
	}

	// Plant repairs: REPAIRED_ACK and back to NORMAL the same tick.
	w = c.Expectation()
	f = newFeed(c, w.Mid(), 0)
	f.extra = []protocol.Message{{Kind: protocol.KindPumpRepaired, Pump: 0}}
	out = tick(t, c, f)
	if !hasPumpMsg(out, protocol.KindPumpRepairedAck, 0) {
		t.Fatal("expected PUMP_REPAIRED_ACKNOWLEDGEMENT for pump 0")
	}
	if modeOf(t, out) != protocol.ModeNormal {
		t.Fatalf("mode = %s, want normal after repair", modeOf(t, out))
	}
	if c.Faults().Faulty(PumpSlot(0)) {
		t.Fatal("pump slot must be cleared before the next tick")
	}

	// A repair without a prior acknowledgement is ignored.
	c2 := New(config.Default())
	bootNormal(t, c2)
	f = newFeed(c2, 500, 0)
	f.pump[0] = false
	f.ctrl[0] = false
	tick(t, c2, f)

	w = c2.Expectation()
	f = newFeed(c2, w.Mid(), 0)
	f.extra = []protocol.Message{{Kind: protocol.KindPumpRepaired, Pump: 0}}
	out = tick(t, c2, f)
	if countKind(out, protocol.KindPumpRepairedAck) != 0 {
		t.Fatal("repair before acknowledgement must be ignored")
	}
	if modeOf(t, out) != protocol.ModeDegraded {
		t.Fatalf("mode = %s, want still degraded", modeOf(t, out))
	}
}

func TestSteamNonsenseInRescueStops(t *testing.T) {
	cfg := config.Default()
	c := New(cfg)
	bootNormal(t, c)

	tick(t, c, newFeed(c, cfg.Capacity, 0)) // rescue entry

	out := tick(t, c, newFeed(c, cfg.Capacity, -1))
	if modeOf(t, out) != protocol.ModeEmergencyStop {
		t.Fatalf("mode = %s, want emergency_stop for steam nonsense in rescue", modeOf(t, out))
	}
}

func TestAllPumpsStuckOnStops(t *testing.T) {
	cfg := config.Default()
	c := New(cfg)
	bootNormal(t, c)

	// Every pump delivers regardless of command; steam never starts. The
	// level climbs ~100 per tick and nothing can absorb it.
	level := 500.0
	stopped := false
	for i := 0; i < 12; i++ {
		level += config.TickSeconds * float64(cfg.PumpCount) * cfg.PumpRate
		f := newFeed(c, level, 0)
		for p := 0; p < cfg.PumpCount; p++ {
			f.pump[p] = true
			f.ctrl[p] = true
		}
		out := tick(t, c, f)
		if modeOf(t, out) == protocol.ModeEmergencyStop {
			stopped = true
			break
		}
	}
	if !stopped {
		t.Fatal("controller failed to emergency-stop with all pumps stuck on")
	}
}

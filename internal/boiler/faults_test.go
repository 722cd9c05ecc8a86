package boiler

import "testing"

func TestRegistrySlots(t *testing.T) {
	r := NewRegistry(4)

	if r.AnyFault() {
		t.Fatal("fresh registry should be clean")
	}
	if r.Pumps() != 4 {
		t.Fatalf("Pumps() = %d, want 4", r.Pumps())
	}

	r.Fail(PumpSlot(2), FaultStuckOn)
	if !r.Faulty(PumpSlot(2)) || r.Kind(PumpSlot(2)) != FaultStuckOn {
		t.Fatal("pump 2 fault not recorded")
	}
	if r.Faulty(PumpSlot(1)) || r.Faulty(ControlSlot(4, 2)) {
		t.Fatal("fault leaked into a neighboring slot")
	}
	if !r.AnyFault() {
		t.Fatal("AnyFault should see the pump fault")
	}
	if r.AnyFaultBesides(PumpSlot(2)) {
		t.Fatal("AnyFaultBesides should exclude the named slot")
	}

	r.Fail(PeripheralLevel, FaultOffset)
	if !r.AnyFaultBesides(PumpSlot(2)) {
		t.Fatal("AnyFaultBesides should see the level fault")
	}
}

func TestRegistryAckAndClear(t *testing.T) {
	r := NewRegistry(2)

	// Acknowledging a clean slot is a no-op.
	if r.Ack(PeripheralSteam) {
		t.Fatal("Ack on a clean slot should report false")
	}
	if r.Acked(PeripheralSteam) {
		t.Fatal("clean slot must not become acknowledged")
	}

	r.Fail(PeripheralSteam, FaultBroken)
	if !r.Ack(PeripheralSteam) {
		t.Fatal("Ack on a faulted slot should report true")
	}
	if !r.Acked(PeripheralSteam) {
		t.Fatal("slot should be acknowledged")
	}

	r.Clear(PeripheralSteam)
	if r.Faulty(PeripheralSteam) || r.Acked(PeripheralSteam) {
		t.Fatal("Clear must empty both the kind and the acknowledgement")
	}
}

func TestRegistryPumpCounts(t *testing.T) {
	r := NewRegistry(4)
	r.Fail(PumpSlot(0), FaultStuckOn)
	r.Fail(PumpSlot(1), FaultStuckOff)
	r.Fail(PumpSlot(2), FaultStuckOff)

	if got := r.LockedOn(); got != 1 {
		t.Errorf("LockedOn = %d, want 1", got)
	}
	if got := r.LockedOff(); got != 2 {
		t.Errorf("LockedOff = %d, want 2", got)
	}
}

func TestRegistryPumpUsable(t *testing.T) {
	r := NewRegistry(4)

	if !r.PumpUsable(0) {
		t.Fatal("healthy pump should be usable")
	}

	r.Fail(PumpSlot(0), FaultStuckOn)
	r.Fail(PumpSlot(1), FaultStuckOff)
	r.Fail(PumpSlot(2), FaultTxWrong)
	r.Fail(PumpSlot(3), FaultReduced)

	if r.PumpUsable(0) || r.PumpUsable(1) {
		t.Error("stuck pumps must not be usable")
	}
	if r.PumpUsable(2) {
		t.Error("unacknowledged tx-wrong pump must not be usable")
	}
	r.Ack(PumpSlot(2))
	if !r.PumpUsable(2) {
		t.Error("acknowledged tx-wrong pump should be usable")
	}
	if !r.PumpUsable(3) {
		t.Error("reduced pump should be usable (as a last resort)")
	}
}

func TestFaultKindStrings(t *testing.T) {
	tests := []struct {
		kind FaultKind
		want string
	}{
		{FaultNone, "ok"},
		{FaultStuckOn, "stuck_on"},
		{FaultStuckOff, "stuck_off"},
		{FaultReduced, "reduced"},
		{FaultTxWrong, "tx_wrong"},
		{FaultBroken, "broken"},
		{FaultOffset, "offset"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("FaultKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestWindowContains(t *testing.T) {
	w := Window{Lo: 400, Hi: 600, Known: true}
	if !w.Contains(400) || !w.Contains(600) || !w.Contains(500) {
		t.Error("window bounds are inclusive")
	}
	if w.Contains(399.9) || w.Contains(600.1) {
		t.Error("window must reject values outside the bounds")
	}
	if w.Mid() != 500 {
		t.Errorf("Mid() = %g, want 500", w.Mid())
	}

	unknown := Window{Lo: 400, Hi: 600}
	if unknown.Contains(500) {
		t.Error("unknown window contains nothing")
	}
}

package boiler

// PumpStatus is one pump's view in a Snapshot.
type PumpStatus struct {
	Commanded    bool   `json:"commanded"`
	Fault        string `json:"fault"`
	FaultAcked   bool   `json:"fault_acked"`
	ControlFault string `json:"control_fault"`
	ControlAcked bool   `json:"control_acked"`
}

// Snapshot is a point-in-time view of the controller for monitoring and
// history. It carries no references into the controller.
type Snapshot struct {
	Mode        string       `json:"mode"`
	ValveOpen   bool         `json:"valve_open"`
	ExpectLo    float64      `json:"expect_lo"`
	ExpectHi    float64      `json:"expect_hi"`
	ExpectKnown bool         `json:"expect_known"`
	LevelFault  string       `json:"level_fault"`
	SteamFault  string       `json:"steam_fault"`
	ValveFault  string       `json:"valve_fault"`
	Pumps       []PumpStatus `json:"pumps"`
}

// Snapshot returns the controller's current externally relevant state.
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		Mode:        c.mode.String(),
		ValveOpen:   c.valveOpen,
		ExpectLo:    c.window.Lo,
		ExpectHi:    c.window.Hi,
		ExpectKnown: c.window.Known,
		LevelFault:  c.reg.Kind(PeripheralLevel).String(),
		SteamFault:  c.reg.Kind(PeripheralSteam).String(),
		ValveFault:  c.reg.Kind(PeripheralValve).String(),
		Pumps:       make([]PumpStatus, c.cfg.PumpCount),
	}
	for i := 0; i < c.cfg.PumpCount; i++ {
		ctrl := ControlSlot(c.cfg.PumpCount, i)
		snap.Pumps[i] = PumpStatus{
			Commanded:    c.cmd[i],
			Fault:        c.reg.Kind(PumpSlot(i)).String(),
			FaultAcked:   c.reg.Acked(PumpSlot(i)),
			ControlFault: c.reg.Kind(ctrl).String(),
			ControlAcked: c.reg.Acked(ctrl),
		}
	}
	return snap
}

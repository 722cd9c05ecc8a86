package driver

import (
	"context"
	"time"

	"github.com/mbarbier/steamboiler/internal/boiler"
	"github.com/mbarbier/steamboiler/internal/plantsim"
	"github.com/mbarbier/steamboiler/internal/protocol"
)

// Local drives a simulated plant and a controller in the same process.
// Step advances exactly one tick; Run free-runs on a ticker. Used by the
// -sim mode of the controller daemon and by the test suite.
type Local struct {
	plant  *plantsim.Plant
	ctrl   *boiler.Controller
	source protocol.Source

	// OnTick, when set, observes every completed tick.
	OnTick func(TickResult)
}

// NewLocal creates a local driver over the given plant and controller.
func NewLocal(plant *plantsim.Plant, ctrl *boiler.Controller, source protocol.Source) *Local {
	return &Local{plant: plant, ctrl: ctrl, source: source}
}

// Plant returns the simulated plant, for fault injection.
func (d *Local) Plant() *plantsim.Plant { return d.plant }

// Step runs one full tick: sensor bundle, controller, commands, physics.
func (d *Local) Step() TickResult {
	in := d.plant.SensorBundle(d.source)
	cmds, res := step(d.ctrl, d.source, in)
	d.plant.ApplyCommands(cmds)
	d.plant.Advance()

	if d.OnTick != nil {
		d.OnTick(res)
	}
	return res
}

// Run steps the simulation on the given interval until ctx is cancelled.
func (d *Local) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Step()
		}
	}
}

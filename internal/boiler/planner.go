package boiler

import (
	"math"

	"github.com/mbarbier/steamboiler/internal/config"
)

// plan selects the pump count whose predicted mid-range level sits closest
// to the target, and the prediction window that choice implies.
//
// baseLo/baseHi carry the current reading (both equal) in NORMAL and
// DEGRADED, or the previous prediction window in RESCUE. k ranges from the
// stuck-on pump count (those deliver whether we like it or not) up to that
// plus every pump we may still command open. The window brackets the next
// level between "every opened pump delivers, steam stays at today's reading"
// and "every opened pump delivers, steam runs at the physical maximum"; a
// broken valve drains a full tick of evacuation from both bounds.
func (c *Controller) plan(baseLo, baseHi, steam float64, lockedOn, openable int) (int, Window) {
	dt := config.TickSeconds
	pumpVol := c.cfg.PumpVolume()
	target := c.cfg.Target()

	leak := 0.0
	if c.reg.Faulty(PeripheralValve) {
		leak = dt * c.cfg.ValveRate
	}

	bestK := lockedOn
	bestDist := math.Inf(1)
	var bestW Window
	for k := lockedOn; k <= lockedOn+openable; k++ {
		hi := baseHi + pumpVol*float64(k) - dt*steam - leak
		lo := baseLo + pumpVol*float64(k) - dt*c.cfg.SteamMax - leak
		mid := (hi + lo) / 2
		if d := math.Abs(mid - target); d < bestDist {
			bestDist = d
			bestK = k
			bestW = Window{Lo: lo - Epsilon, Hi: hi + Epsilon, Known: true}
		}
	}
	return bestK, bestW
}

// fillCount picks the pump count for the initial fill: the k in [1, P]
// bringing the level closest to target over one tick, with no steam outflow
// yet.
func (c *Controller) fillCount(level float64) int {
	pumpVol := c.cfg.PumpVolume()
	target := c.cfg.Target()

	bestK := 1
	bestDist := math.Inf(1)
	for k := 1; k <= c.cfg.PumpCount; k++ {
		d := math.Abs(level + pumpVol*float64(k) - target)
		if d < bestDist {
			bestDist = d
			bestK = k
		}
	}
	return bestK
}

// selectPumps chooses which pumps to open so that k are delivering. Stuck-on
// pumps count first; healthy pumps fill the remainder; reduced pumps are a
// last resort, each widening the window floor by the half-tick volume they
// may fail to deliver. Returns the open set and the widened window.
func (c *Controller) selectPumps(k int, w Window) ([]bool, Window) {
	open := make([]bool, c.cfg.PumpCount)
	need := k

	for i := 0; i < c.cfg.PumpCount; i++ {
		if c.reg.Kind(PumpSlot(i)) == FaultStuckOn {
			open[i] = true
			need--
		}
	}

	for i := 0; i < c.cfg.PumpCount && need > 0; i++ {
		if open[i] || !c.reg.PumpUsable(i) || c.reg.Kind(PumpSlot(i)) == FaultReduced {
			continue
		}
		open[i] = true
		need--
	}

	// Reduced pumps only when nothing else is left. A half-capacity pump may
	// deliver as little as half its tick volume, so the floor drops by the
	// other half for each one opened.
	for i := 0; i < c.cfg.PumpCount && need > 0; i++ {
		if open[i] || c.reg.Kind(PumpSlot(i)) != FaultReduced {
			continue
		}
		open[i] = true
		need--
		w.Lo -= c.cfg.PumpVolume() / 2
	}

	return open, w
}

// openableCount counts pumps the controller may still command open on top of
// the stuck-on set.
func (c *Controller) openableCount() int {
	n := 0
	for i := 0; i < c.cfg.PumpCount; i++ {
		if c.reg.Kind(PumpSlot(i)) != FaultStuckOn && c.reg.PumpUsable(i) {
			n++
		}
	}
	return n
}

// Package config loads and validates the immutable plant parameters for a
// steam boiler installation. Parameters live in a single YAML file; the
// zero-argument Default() returns the reference installation used by the
// simulator and the test suite.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TickSeconds is the length of one control cycle. The plant transmits a
// sensor bundle every five seconds; all volume rates below are per second.
const TickSeconds = 5.0

// Plant holds the physical constants of one boiler installation.
type Plant struct {
	Capacity  float64 `yaml:"capacity"`   // C: total vessel volume (litres)
	NormalMin float64 `yaml:"normal_min"` // N-: lower edge of the operating band
	NormalMax float64 `yaml:"normal_max"` // N+: upper edge of the operating band
	LimitMin  float64 `yaml:"limit_min"`  // L-: below this the boiler is unsafe
	LimitMax  float64 `yaml:"limit_max"`  // L+: above this the boiler is unsafe
	PumpCount int     `yaml:"pump_count"` // P: number of feedwater pumps
	PumpRate  float64 `yaml:"pump_rate"`  // Q: litres/second per healthy pump
	SteamMax  float64 `yaml:"steam_max"`  // W: maximum steam output rate
	ValveRate float64 `yaml:"valve_rate"` // E: evacuation rate while the valve is open
}

// Target is the level the controller steers toward: the middle of the
// normal band.
func (p Plant) Target() float64 {
	return (p.NormalMin + p.NormalMax) / 2
}

// PumpVolume is the volume one healthy pump delivers over a full tick.
func (p Plant) PumpVolume() float64 {
	return TickSeconds * p.PumpRate
}

// Default returns the reference installation.
func Default() Plant {
	return Plant{
		Capacity:  1000,
		NormalMin: 400,
		NormalMax: 600,
		LimitMin:  100,
		LimitMax:  900,
		PumpCount: 4,
		PumpRate:  5,
		SteamMax:  10,
		ValveRate: 10,
	}
}

// Load reads a plant description from a YAML file and validates it.
func Load(path string) (Plant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plant{}, fmt.Errorf("reading plant config %s: %w", path, err)
	}

	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plant{}, fmt.Errorf("parsing plant config %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return Plant{}, fmt.Errorf("plant config %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the ordering invariant 0 < L- < N- < T < N+ < L+ < C and
// that every rate and count is positive.
func (p Plant) Validate() error {
	if p.PumpCount <= 0 {
		return fmt.Errorf("pump_count must be positive, got %d", p.PumpCount)
	}
	if p.PumpRate <= 0 {
		return fmt.Errorf("pump_rate must be positive, got %g", p.PumpRate)
	}
	if p.SteamMax <= 0 {
		return fmt.Errorf("steam_max must be positive, got %g", p.SteamMax)
	}
	if p.ValveRate <= 0 {
		return fmt.Errorf("valve_rate must be positive, got %g", p.ValveRate)
	}
	if p.LimitMin <= 0 {
		return fmt.Errorf("limit_min must be positive, got %g", p.LimitMin)
	}

	t := p.Target()
	ordered := p.LimitMin < p.NormalMin &&
		p.NormalMin < t &&
		t < p.NormalMax &&
		p.NormalMax < p.LimitMax &&
		p.LimitMax < p.Capacity
	if !ordered {
		return fmt.Errorf("bands out of order: need limit_min < normal_min < target < normal_max < limit_max < capacity, got L-=%g N-=%g T=%g N+=%g L+=%g C=%g",
			p.LimitMin, p.NormalMin, t, p.NormalMax, p.LimitMax, p.Capacity)
	}
	return nil
}

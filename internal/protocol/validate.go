package protocol

import (
	"fmt"
	"math"
	"regexp"
)

// Compiled regex patterns for envelope fields.
var (
	uuidV4Pattern   = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	servicePattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	instancePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	versionPattern  = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)
)

var validBundleTypes = func() map[string]bool {
	m := make(map[string]bool, len(ValidBundleTypes))
	for _, t := range ValidBundleTypes {
		m[t] = true
	}
	return m
}()

var validModes = func() map[string]bool {
	m := make(map[string]bool, len(ValidModes))
	for _, s := range ValidModes {
		m[s] = true
	}
	return m
}()

var validInjectActions = func() map[string]bool {
	m := make(map[string]bool, len(ValidInjectActions))
	for _, a := range ValidInjectActions {
		m[a] = true
	}
	return m
}()

// inboundKinds are the kinds a plant.sensors bundle may carry.
var inboundKinds = map[Kind]bool{
	KindBoilerWaiting: true, KindPhysicalUnitsReady: true,
	KindLevel: true, KindSteam: true,
	KindPumpState: true, KindPumpControlState: true,
	KindLevelRepaired: true, KindSteamRepaired: true,
	KindPumpRepaired: true, KindPumpControlRepaired: true,
	KindLevelFailureAck: true, KindSteamFailureAck: true,
	KindPumpFailureAck: true, KindPumpControlFailureAck: true,
}

// outboundKinds are the kinds a controller.commands bundle may carry.
var outboundKinds = map[Kind]bool{
	KindMode: true, KindProgramReady: true,
	KindOpenPump: true, KindClosePump: true, KindValve: true,
	KindLevelFailureDetection: true, KindSteamFailureDetection: true,
	KindPumpFailureDetection: true, KindPumpControlFailureDetection: true,
	KindLevelRepairedAck: true, KindSteamRepairedAck: true,
	KindPumpRepairedAck: true, KindPumpControlRepairedAck: true,
}

// Validate checks a bundle's envelope and messages. pumpCount bounds the
// pump index on pump-addressed kinds. Multiplicity rules (exactly one LEVEL
// per sensor bundle, and so on) are the controller's to enforce; Validate
// only rejects structurally malformed traffic.
func Validate(b *Bundle, pumpCount int) error {
	env := b.Envelope

	if !uuidV4Pattern.MatchString(env.ID) {
		return fmt.Errorf("invalid id: must be UUIDv4 format, got %q", env.ID)
	}
	if env.Timestamp < 0 {
		return fmt.Errorf("invalid timestamp: must be >= 0, got %d", env.Timestamp)
	}
	if err := validateSource(env.Source); err != nil {
		return err
	}
	if env.SchemaVersion != SchemaVersion {
		return fmt.Errorf("invalid schema_version: must be %q, got %q", SchemaVersion, env.SchemaVersion)
	}
	if !validBundleTypes[env.Type] {
		return fmt.Errorf("invalid type: %q is not a valid bundle type", env.Type)
	}
	if env.Tick < 0 {
		return fmt.Errorf("invalid tick: must be >= 0, got %d", env.Tick)
	}

	if env.Type == TypePlantInject {
		if b.Inject == nil {
			return fmt.Errorf("missing inject directive for type %q", env.Type)
		}
		return validateInject(b.Inject, pumpCount)
	}
	if b.Inject != nil {
		return fmt.Errorf("unexpected inject directive on type %q", env.Type)
	}

	allowed := inboundKinds
	if env.Type == TypeControllerCommands {
		allowed = outboundKinds
	}

	for i, msg := range b.Messages {
		if !allowed[msg.Kind] {
			return fmt.Errorf("message %d: kind %q not valid in %q bundle", i, msg.Kind, env.Type)
		}
		if err := validateMessage(msg, pumpCount); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

func validateMessage(msg Message, pumpCount int) error {
	if pumpAddressed(msg.Kind) {
		if msg.Pump < 0 || msg.Pump >= pumpCount {
			return fmt.Errorf("kind %q pump index %d out of range [0,%d)", msg.Kind, msg.Pump, pumpCount)
		}
	} else if msg.Pump != 0 {
		return fmt.Errorf("kind %q must not carry a pump index", msg.Kind)
	}

	if valued(msg.Kind) {
		if math.IsNaN(msg.Value) || math.IsInf(msg.Value, 0) {
			return fmt.Errorf("kind %q value must be finite, got %g", msg.Kind, msg.Value)
		}
	} else if msg.Value != 0 {
		return fmt.Errorf("kind %q must not carry a value", msg.Kind)
	}

	if msg.Kind == KindMode {
		if !validModes[msg.Mode] {
			return fmt.Errorf("invalid mode %q", msg.Mode)
		}
	} else if msg.Mode != "" {
		return fmt.Errorf("kind %q must not carry a mode", msg.Kind)
	}
	return nil
}

func validateInject(in *Inject, pumpCount int) error {
	if !validInjectActions[in.Action] {
		return fmt.Errorf("invalid inject action %q", in.Action)
	}
	switch in.Action {
	case InjectPumpOn, InjectPumpOff, InjectPumpReduced, InjectPumpTx, InjectControlStuck:
		if in.Pump < 0 || in.Pump >= pumpCount {
			return fmt.Errorf("inject %q pump index %d out of range [0,%d)", in.Action, in.Pump, pumpCount)
		}
	case InjectAck, InjectRepair:
		switch in.Peripheral {
		case "level", "steam", "valve":
		case "pump", "pump_control":
			if in.Pump < 0 || in.Pump >= pumpCount {
				return fmt.Errorf("inject %q pump index %d out of range [0,%d)", in.Action, in.Pump, pumpCount)
			}
		default:
			return fmt.Errorf("inject %q: unknown peripheral %q", in.Action, in.Peripheral)
		}
	}
	return nil
}

func validateSource(src Source) error {
	if src.Service == "" || len(src.Service) > 64 || !servicePattern.MatchString(src.Service) {
		return fmt.Errorf("invalid source.service: must match pattern %q (1-64 chars), got %q", servicePattern.String(), src.Service)
	}
	if src.Instance == "" || len(src.Instance) > 64 || !instancePattern.MatchString(src.Instance) {
		return fmt.Errorf("invalid source.instance: must match pattern %q (1-64 chars), got %q", instancePattern.String(), src.Instance)
	}
	if !versionPattern.MatchString(src.Version) {
		return fmt.Errorf("invalid source.version: must be semver format, got %q", src.Version)
	}
	return nil
}

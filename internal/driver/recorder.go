package driver

import (
	"fmt"
	"log"

	"github.com/mbarbier/steamboiler/internal/protocol"
	"github.com/mbarbier/steamboiler/internal/store"
)

// Broadcaster sends events to connected clients (e.g., WebSocket).
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// Recorder persists tick results and derives history events: mode changes,
// first-time failure detections, completed repairs. Attach it to a driver's
// OnTick. Store and Hub may each be nil.
type Recorder struct {
	Store *store.Store
	Hub   Broadcaster
	RunID string

	lastMode string
	reported map[string]bool // peripherals with an open failure report
}

// NewRecorder creates a recorder for one run.
func NewRecorder(st *store.Store, hub Broadcaster, runID string) *Recorder {
	return &Recorder{
		Store:    st,
		Hub:      hub,
		RunID:    runID,
		lastMode: protocol.ModeWaiting, // a fresh controller starts in WAITING
		reported: make(map[string]bool),
	}
}

// Observe processes one tick result.
func (r *Recorder) Observe(res TickResult) {
	if r.Hub != nil {
		r.Hub.BroadcastEvent("tick", res)
	}

	if r.Store == nil {
		return
	}

	mask := 0
	for i, on := range res.Snapshot.Pumps {
		if on.Commanded {
			mask |= 1 << i
		}
	}
	if err := r.Store.RecordTick(r.RunID, res.Tick, res.Level, res.Steam, res.Mode, mask, res.Snapshot.ValveOpen); err != nil {
		log.Printf("driver: record tick %d: %v", res.Tick, err)
	}

	if r.lastMode != "" && res.Mode != r.lastMode {
		detail := fmt.Sprintf("%s -> %s", r.lastMode, res.Mode)
		kind := "mode_change"
		if res.Mode == protocol.ModeEmergencyStop {
			kind = "emergency_stop"
		}
		r.recordEvent(res.Tick, kind, "", detail)
	}
	r.lastMode = res.Mode

	for _, m := range res.Outbound {
		per, isDetection, isRepair := classify(m)
		switch {
		case isDetection && !r.reported[per]:
			r.reported[per] = true
			r.recordEvent(res.Tick, "failure_detection", per, "")
		case isRepair:
			delete(r.reported, per)
			r.recordEvent(res.Tick, "repaired", per, "")
		}
	}
}

func (r *Recorder) recordEvent(seq int64, kind, peripheral, detail string) {
	if err := r.Store.RecordEvent(r.RunID, seq, kind, peripheral, detail); err != nil {
		log.Printf("driver: record event %s: %v", kind, err)
	}
	if r.Hub != nil {
		r.Hub.BroadcastEvent("event", map[string]interface{}{
			"tick": seq, "kind": kind, "peripheral": peripheral, "detail": detail,
		})
	}
}

// classify maps an outbound message to its peripheral name and whether it
// is a detection or a repair acknowledgement.
func classify(m protocol.Message) (peripheral string, detection, repair bool) {
	switch m.Kind {
	case protocol.KindLevelFailureDetection:
		return "level", true, false
	case protocol.KindSteamFailureDetection:
		return "steam", true, false
	case protocol.KindPumpFailureDetection:
		return fmt.Sprintf("pump_%d", m.Pump), true, false
	case protocol.KindPumpControlFailureDetection:
		return fmt.Sprintf("pump_control_%d", m.Pump), true, false
	case protocol.KindLevelRepairedAck:
		return "level", false, true
	case protocol.KindSteamRepairedAck:
		return "steam", false, true
	case protocol.KindPumpRepairedAck:
		return fmt.Sprintf("pump_%d", m.Pump), false, true
	case protocol.KindPumpControlRepairedAck:
		return fmt.Sprintf("pump_control_%d", m.Pump), false, true
	}
	return "", false, false
}

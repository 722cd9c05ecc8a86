// Package driver owns the five-second tick loop: it turns a plant's sensor
// bundle into a mailbox, runs one controller tick, and hands the outbound
// mailbox back as a command bundle. The Local driver wires a simulated
// plant in process; the Redis driver exchanges bundles over pub/sub with a
// separate plant daemon.
package driver

import (
	"github.com/mbarbier/steamboiler/internal/boiler"
	"github.com/mbarbier/steamboiler/internal/mailbox"
	"github.com/mbarbier/steamboiler/internal/protocol"
)

// Redis pub/sub channels.
const (
	ChannelSensors  = "boiler:sensors"
	ChannelCommands = "boiler:commands"
	ChannelInject   = "boiler:inject"
)

// TickResult is what one controller tick produced, for recording and
// broadcasting.
type TickResult struct {
	Tick     int64              `json:"tick"`
	Mode     string             `json:"mode"`
	Level    float64            `json:"level"`
	Steam    float64            `json:"steam"`
	Snapshot boiler.Snapshot    `json:"snapshot"`
	Outbound []protocol.Message `json:"outbound"`
}

// step runs one controller tick over an inbound bundle and builds the
// command bundle. Shared by both drivers.
func step(ctrl *boiler.Controller, source protocol.Source, b *protocol.Bundle) (*protocol.Bundle, TickResult) {
	in := mailbox.New(b.Messages...)
	out := mailbox.New()
	mode := ctrl.Tick(in, out)

	msgs := out.Messages()
	res := TickResult{
		Tick:     b.Envelope.Tick,
		Mode:     mode.String(),
		Snapshot: ctrl.Snapshot(),
		Outbound: msgs,
	}
	for _, m := range b.Messages {
		switch m.Kind {
		case protocol.KindLevel:
			res.Level = m.Value
		case protocol.KindSteam:
			res.Steam = m.Value
		}
	}
	return protocol.BuildCommands(source, b.Envelope.Tick, msgs), res
}

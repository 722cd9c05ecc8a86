package driver

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/mbarbier/steamboiler/internal/boiler"
	"github.com/mbarbier/steamboiler/internal/protocol"
)

// Redis drives the controller from sensor bundles published by a separate
// plant daemon. Each bundle triggers exactly one controller tick; the
// command bundle is published back on the commands channel.
type Redis struct {
	rdb    *redis.Client
	ctrl   *boiler.Controller
	source protocol.Source
	pumps  int

	// OnTick, when set, observes every completed tick.
	OnTick func(TickResult)
}

// NewRedis creates a Redis driver.
func NewRedis(rdb *redis.Client, ctrl *boiler.Controller, source protocol.Source, pumps int) *Redis {
	return &Redis{rdb: rdb, ctrl: ctrl, source: source, pumps: pumps}
}

// Run subscribes to the sensor channel and processes bundles until ctx is
// cancelled. It automatically re-subscribes if the connection drops.
func (d *Redis) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		sub := d.rdb.Subscribe(ctx, ChannelSensors)
		ch := sub.Channel()

		func() {
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						log.Println("driver: sensor subscription closed, reconnecting...")
						return
					}
					d.handle(ctx, []byte(msg.Payload))
				}
			}
		}()
	}
}

// handle processes one published sensor bundle.
func (d *Redis) handle(ctx context.Context, payload []byte) {
	b, err := protocol.Parse(payload)
	if err != nil {
		log.Printf("driver: parse sensor bundle: %v", err)
		return
	}
	if err := protocol.Validate(b, d.pumps); err != nil {
		log.Printf("driver: invalid sensor bundle: %v", err)
		return
	}
	if b.Envelope.Type != protocol.TypePlantSensors {
		return
	}

	cmds, res := d.Process(b)
	data, err := cmds.Encode()
	if err != nil {
		log.Printf("driver: encode command bundle: %v", err)
		return
	}
	if err := d.rdb.Publish(ctx, ChannelCommands, string(data)).Err(); err != nil {
		log.Printf("driver: PUBLISH %s: %v", ChannelCommands, err)
	}

	if d.OnTick != nil {
		d.OnTick(res)
	}
}

// Process runs one controller tick over an already validated sensor bundle
// and returns the command bundle. Exposed for unit tests, which drive
// bundles in without a broker.
func (d *Redis) Process(b *protocol.Bundle) (*protocol.Bundle, TickResult) {
	return step(d.ctrl, d.source, b)
}

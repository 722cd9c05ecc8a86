// Command boiler-monitor watches the tick traffic on Redis and prints one
// line per bundle: the sensor bundle and the command bundle of each tick.
// With -inject it publishes a single fault-injection directive and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/mbarbier/steamboiler/internal/driver"
	"github.com/mbarbier/steamboiler/internal/protocol"
)

const version = "1.0.0"

var source = protocol.Source{
	Service:  "boiler_monitor",
	Instance: "mon-01",
	Version:  version,
}

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	pumps := flag.Int("pumps", 4, "Pump count for bundle validation")
	inject := flag.String("inject", "", "One-shot inject action (e.g. pump_stuck_off, level_stuck, repair) then exit")
	peripheral := flag.String("peripheral", "", "Peripheral for acknowledge/repair actions")
	pump := flag.Int("pump", 0, "Pump index for pump-addressed actions")
	value := flag.Float64("value", 0, "Value for stuck/offset actions")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", *redisAddr, err)
	}

	if *inject != "" {
		directive := protocol.Inject{
			Action:     *inject,
			Peripheral: *peripheral,
			Pump:       *pump,
			Value:      *value,
		}
		bundle := protocol.BuildInject(source, directive)
		if err := protocol.Validate(bundle, *pumps); err != nil {
			log.Fatalf("Invalid directive: %v", err)
		}
		data, err := bundle.Encode()
		if err != nil {
			log.Fatalf("Encode directive: %v", err)
		}
		if err := rdb.Publish(ctx, driver.ChannelInject, string(data)).Err(); err != nil {
			log.Fatalf("Publish directive: %v", err)
		}
		fmt.Printf("sent %s %s pump=%d value=%g\n", directive.Action, directive.Peripheral, directive.Pump, directive.Value)
		return
	}

	sub := rdb.Subscribe(ctx, driver.ChannelSensors, driver.ChannelCommands)
	defer sub.Close()
	ch := sub.Channel()

	log.Printf("Watching %s and %s on %s", driver.ChannelSensors, driver.ChannelCommands, *redisAddr)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				log.Println("subscription closed")
				return
			}
			b, err := protocol.Parse([]byte(msg.Payload))
			if err != nil {
				continue
			}
			printBundle(b)
		}
	}
}

// printBundle renders one bundle as a single line.
func printBundle(b *protocol.Bundle) {
	switch b.Envelope.Type {
	case protocol.TypePlantSensors:
		var level, steam float64
		var pumpsOn []string
		var extra []string
		for _, m := range b.Messages {
			switch m.Kind {
			case protocol.KindLevel:
				level = m.Value
			case protocol.KindSteam:
				steam = m.Value
			case protocol.KindPumpState:
				if m.Open {
					pumpsOn = append(pumpsOn, fmt.Sprintf("%d", m.Pump))
				}
			case protocol.KindPumpControlState:
				// Summarized by the pump states line.
			default:
				extra = append(extra, string(m.Kind))
			}
		}
		line := fmt.Sprintf("tick %-5d <- level=%-7.1f steam=%-5.1f pumps=[%s]",
			b.Envelope.Tick, level, steam, strings.Join(pumpsOn, ","))
		if len(extra) > 0 {
			line += " " + strings.Join(extra, " ")
		}
		fmt.Println(line)

	case protocol.TypeControllerCommands:
		var mode string
		var cmds []string
		for _, m := range b.Messages {
			switch m.Kind {
			case protocol.KindMode:
				mode = m.Mode
			case protocol.KindOpenPump:
				cmds = append(cmds, fmt.Sprintf("open_%d", m.Pump))
			case protocol.KindClosePump:
				cmds = append(cmds, fmt.Sprintf("close_%d", m.Pump))
			case protocol.KindValve:
				cmds = append(cmds, "valve")
			default:
				c := string(m.Kind)
				if m.Kind == protocol.KindPumpFailureDetection || m.Kind == protocol.KindPumpControlFailureDetection ||
					m.Kind == protocol.KindPumpRepairedAck || m.Kind == protocol.KindPumpControlRepairedAck {
					c = fmt.Sprintf("%s_%d", m.Kind, m.Pump)
				}
				cmds = append(cmds, c)
			}
		}
		fmt.Printf("tick %-5d -> mode=%-14s %s\n", b.Envelope.Tick, mode, strings.Join(cmds, " "))
	}
}

// Command boiler-plant runs the plant daemon: the simulated boiler physics
// behind the Redis transport. Every tick it publishes a sensor bundle,
// applies whatever commands the controller published since the last tick,
// and honors fault-injection directives from the inject channel.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbarbier/steamboiler/internal/config"
	"github.com/mbarbier/steamboiler/internal/driver"
	"github.com/mbarbier/steamboiler/internal/plantsim"
	"github.com/mbarbier/steamboiler/internal/protocol"
)

const version = "1.0.0"

var source = protocol.Source{
	Service:  "boiler_plant",
	Instance: "plant-01",
	Version:  version,
}

func main() {
	configPath := flag.String("config", "", "Plant config YAML (defaults to the reference installation)")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	tick := flag.Duration("tick", 5*time.Second, "Tick interval")
	startLevel := flag.Float64("start-level", 500, "Starting water level")
	steamRamp := flag.Float64("steam-ramp", plantsim.DefaultSteamRamp, "Steam growth per tick while heating")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load plant config: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", *redisAddr, err)
	}
	log.Printf("Connected to Redis at %s", *redisAddr)

	plant := plantsim.New(cfg, *startLevel)
	plant.SetSteamRamp(*steamRamp)

	var wg sync.WaitGroup

	// 1. Command listener
	wg.Add(1)
	go func() {
		defer wg.Done()
		runCommandListener(ctx, rdb, plant, cfg.PumpCount)
	}()

	// 2. Inject listener
	wg.Add(1)
	go func() {
		defer wg.Done()
		runInjectListener(ctx, rdb, plant, cfg.PumpCount)
	}()

	// 3. Tick publisher
	wg.Add(1)
	go func() {
		defer wg.Done()
		runTicker(ctx, rdb, plant, *tick)
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	wg.Wait()
	log.Println("Shutdown complete")
}

// runTicker publishes the sensor bundle immediately and then advances the
// physics and publishes on every tick.
func runTicker(ctx context.Context, rdb *redis.Client, plant *plantsim.Plant, interval time.Duration) {
	publish := func() {
		bundle := plant.SensorBundle(source)
		data, err := bundle.Encode()
		if err != nil {
			log.Printf("ticker: encode bundle: %v", err)
			return
		}
		if err := rdb.Publish(ctx, driver.ChannelSensors, string(data)).Err(); err != nil {
			log.Printf("ticker: PUBLISH %s: %v", driver.ChannelSensors, err)
			return
		}
		snap := plant.Snapshot()
		log.Printf("ticker: tick %d level=%.1f steam=%.1f valve=%v", snap.Tick, snap.Level, snap.Steam, snap.ValveOpen)
	}

	publish()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			plant.Advance()
			publish()
		}
	}
}

// runCommandListener applies controller command bundles. It automatically
// re-subscribes if the connection drops.
func runCommandListener(ctx context.Context, rdb *redis.Client, plant *plantsim.Plant, pumps int) {
	for {
		if ctx.Err() != nil {
			return
		}

		sub := rdb.Subscribe(ctx, driver.ChannelCommands)
		ch := sub.Channel()

		func() {
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						log.Println("commands: subscription channel closed, reconnecting...")
						return
					}
					b, err := protocol.Parse([]byte(msg.Payload))
					if err != nil {
						log.Printf("commands: parse error: %v", err)
						continue
					}
					if err := protocol.Validate(b, pumps); err != nil {
						log.Printf("commands: invalid bundle: %v", err)
						continue
					}
					if b.Envelope.Type != protocol.TypeControllerCommands {
						continue
					}
					plant.ApplyCommands(b)
				}
			}
		}()
	}
}

// runInjectListener applies fault-injection directives. It automatically
// re-subscribes if the connection drops.
func runInjectListener(ctx context.Context, rdb *redis.Client, plant *plantsim.Plant, pumps int) {
	for {
		if ctx.Err() != nil {
			return
		}

		sub := rdb.Subscribe(ctx, driver.ChannelInject)
		ch := sub.Channel()

		func() {
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						log.Println("inject: subscription channel closed, reconnecting...")
						return
					}
					b, err := protocol.Parse([]byte(msg.Payload))
					if err != nil {
						log.Printf("inject: parse error: %v", err)
						continue
					}
					if err := protocol.Validate(b, pumps); err != nil {
						log.Printf("inject: invalid bundle: %v", err)
						continue
					}
					if b.Envelope.Type != protocol.TypePlantInject || b.Inject == nil {
						continue
					}
					if err := plant.Inject(*b.Inject); err != nil {
						log.Printf("inject: %v", err)
						continue
					}
					log.Printf("inject: applied %s %s pump=%d value=%g",
						b.Inject.Action, b.Inject.Peripheral, b.Inject.Pump, b.Inject.Value)
				}
			}
		}()
	}
}

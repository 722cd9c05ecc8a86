// Command boiler-controller runs the feedwater controller daemon: it ticks
// the control core against sensor bundles (from Redis, or an in-process
// simulated plant with -sim), records run history to SQLite, and serves the
// monitoring API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mbarbier/steamboiler/internal/api"
	"github.com/mbarbier/steamboiler/internal/boiler"
	"github.com/mbarbier/steamboiler/internal/config"
	"github.com/mbarbier/steamboiler/internal/driver"
	"github.com/mbarbier/steamboiler/internal/plantsim"
	"github.com/mbarbier/steamboiler/internal/protocol"
	"github.com/mbarbier/steamboiler/internal/redishealth"
	"github.com/mbarbier/steamboiler/internal/store"
)

const version = "1.0.0"

var source = protocol.Source{
	Service:  "boiler_controller",
	Instance: "ctrl-01",
	Version:  version,
}

func main() {
	configPath := flag.String("config", "", "Plant config YAML (defaults to the reference installation)")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	listenAddr := flag.String("listen", ":8002", "HTTP listen address")
	dbPath := flag.String("db", "boiler.db", "SQLite history database path")
	sim := flag.Bool("sim", false, "Run against an in-process simulated plant instead of Redis")
	tick := flag.Duration("tick", 5*time.Second, "Tick interval in -sim mode")
	startLevel := flag.Float64("start-level", 500, "Simulated starting water level in -sim mode")
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

	db, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database at %s: %v", *dbPath, err)
	}
	defer db.Close()
	log.Printf("Opened database at %s", *dbPath)

	runID := uuid.New().String()
	if err := db.CreateRun(runID); err != nil {
		log.Fatalf("Failed to create run: %v", err)
	}
	log.Printf("Run %s started", runID)

	ctrl := boiler.New(cfg)
	hub := api.NewHub()
	recorder := driver.NewRecorder(db, hub, runID)

	handler := &api.Handler{
		Store:  db,
		Hub:    hub,
		RunID:  runID,
		Pumps:  cfg.PumpCount,
		Status: ctrl.Snapshot,
	}

	var wg sync.WaitGroup

	if *sim {
		plant := plantsim.New(cfg, *startLevel)
		local := driver.NewLocal(plant, ctrl, source)
		local.OnTick = recorder.Observe
		handler.Injector = localInjector{plant}

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("Simulated plant attached, ticking every %v", *tick)
			local.Run(ctx, *tick)
		}()
	} else {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", *redisAddr, err)
		}
		log.Printf("Connected to Redis at %s", *redisAddr)

		redisDriver := driver.NewRedis(rdb, ctrl, source, cfg.PumpCount)
		redisDriver.OnTick = recorder.Observe
		handler.Injector = redisInjector{rdb}

		redisMon := redishealth.New(rdb, 5*time.Second,
			func() {
				log.Println("Redis connection lost — sensor bundles will stall")
				hub.BroadcastEvent("redis_health", map[string]string{"status": "disconnected"})
			},
			func() {
				log.Println("Redis connection restored")
				hub.BroadcastEvent("redis_health", map[string]string{"status": "connected"})
			},
		)
		handler.Health = redisMon

		wg.Add(1)
		go func() {
			defer wg.Done()
			redisDriver.Run(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			redisMon.Run(ctx)
		}()
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("GET /ws", hub.HandleWebSocket)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"service":"boiler-controller","version":"` + version + `"}`))
	})

	server := &http.Server{
		Addr:    *listenAddr,
		Handler: mux,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP server listening on %s", *listenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	wg.Wait()

	if err := db.FinishRun(runID, ctrl.Mode().String()); err != nil {
		log.Printf("Failed to finish run: %v", err)
	}
	log.Println("Shutdown complete")
}

// localInjector applies directives straight to the in-process plant.
type localInjector struct {
	plant *plantsim.Plant
}

func (l localInjector) SendInject(r *http.Request, d protocol.Inject) error {
	return l.plant.Inject(d)
}

// redisInjector publishes directives on the inject channel for the plant
// daemon to pick up.
type redisInjector struct {
	rdb *redis.Client
}

func (ri redisInjector) SendInject(r *http.Request, d protocol.Inject) error {
	bundle := protocol.BuildInject(source, d)
	data, err := bundle.Encode()
	if err != nil {
		return err
	}
	return ri.rdb.Publish(r.Context(), driver.ChannelInject, string(data)).Err()
}

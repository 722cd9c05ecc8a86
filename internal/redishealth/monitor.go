// Package redishealth tracks the controller's view of the tick transport.
// A lost broker means lost sensor bundles; the monitor surfaces the
// transition so the daemon can broadcast it, while the pub/sub listeners
// handle their own re-subscription.
package redishealth

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is the current transport state.
type Status struct {
	Connected  bool      `json:"connected"`
	LastPingOK time.Time `json:"last_ping_ok,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Latency    string    `json:"latency,omitempty"`
}

// Monitor pings the broker on an interval and fires the transition
// callbacks. Both callbacks may be nil.
type Monitor struct {
	rdb      *redis.Client
	interval time.Duration
	onDown   func()
	onUp     func()

	mu        sync.RWMutex
	connected bool
	lastPing  time.Time
	lastErr   string
	latency   time.Duration
}

// New creates a monitor pinging every interval.
func New(rdb *redis.Client, interval time.Duration, onDown, onUp func()) *Monitor {
	return &Monitor{
		rdb:       rdb,
		interval:  interval,
		onDown:    onDown,
		onUp:      onUp,
		connected: true, // assume connected at start
		lastPing:  time.Now(),
	}
}

// Run blocks until ctx is cancelled, checking on the configured interval.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check performs a single PING and fires a callback on a state transition.
func (m *Monitor) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := m.rdb.Ping(pingCtx).Err()
	elapsed := time.Since(start)

	m.mu.Lock()
	wasConnected := m.connected
	if err != nil {
		m.connected = false
		m.lastErr = err.Error()
	} else {
		m.connected = true
		m.lastPing = time.Now()
		m.latency = elapsed
		m.lastErr = ""
	}
	m.mu.Unlock()

	switch {
	case wasConnected && err != nil:
		log.Printf("redishealth: connection lost: %v", err)
		if m.onDown != nil {
			m.onDown()
		}
	case !wasConnected && err == nil:
		log.Printf("redishealth: connection restored (latency=%v)", elapsed)
		if m.onUp != nil {
			m.onUp()
		}
	}
}

// IsConnected returns whether the last check succeeded.
func (m *Monitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		Connected:  m.connected,
		LastPingOK: m.lastPing,
		LastError:  m.lastErr,
	}
	if m.latency > 0 {
		s.Latency = m.latency.String()
	}
	return s
}

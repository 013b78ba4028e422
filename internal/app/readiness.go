// Package app wires application components and startup helpers shared
// across the backbone's processes.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BusPinger is the minimal interface for a message bus client capable of
// checking broker connectivity.
type BusPinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns two readiness checks: the database pool and
// the message bus. Either failing means the process cannot do its job
// (appending/reading events, or publishing/consuming), so both gate
// readiness rather than just liveness.
func BuildReadinessChecks(pool Pinger, bus BusPinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	busCheck := func(ctx context.Context) error {
		if bus == nil {
			return fmt.Errorf("bus not configured")
		}
		return bus.Ping(ctx)
	}
	return dbCheck, busCheck
}

type readinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

func runReadinessCheck(ctx context.Context, name string, fn func(ctx context.Context) error) readinessCheck {
	if fn == nil {
		return readinessCheck{Name: name, OK: true}
	}
	if err := fn(ctx); err != nil {
		return readinessCheck{Name: name, OK: false, Details: err.Error()}
	}
	return readinessCheck{Name: name, OK: true}
}

// ReadyzHandler builds a /readyz handler that runs both checks with a
// shared deadline and reports per-check status as JSON.
func ReadyzHandler(dbCheck, busCheck func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := []readinessCheck{
			runReadinessCheck(ctx, "db", dbCheck),
			runReadinessCheck(ctx, "bus", busCheck),
		}

		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"checks": checks})
	}
}

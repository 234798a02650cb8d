// Package health reports the reachability of the service's two stores.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"

	Up   = "up"
	Down = "down"
)

// Probe is anything that can prove a dependency is reachable.
type Probe interface {
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Ping(ctx context.Context) error { return f(ctx) }

// Report is the body of GET /health.
type Report struct {
	Status     string `json:"status"`
	Postgres   string `json:"postgres"`
	ClickHouse string `json:"clickhouse"`
}

// Ready reports whether both stores answered.
func (r Report) Ready() bool {
	return r.Status == StatusOK
}

// Checker probes Postgres and ClickHouse concurrently.
type Checker struct {
	postgres   Probe
	clickhouse Probe
	timeout    time.Duration
	log        *slog.Logger
}

// NewChecker builds a Checker. Each probe gets its own timeout so a hung
// store cannot delay the other's result.
func NewChecker(postgres, clickhouse Probe, timeout time.Duration, log *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Checker{postgres: postgres, clickhouse: clickhouse, timeout: timeout, log: log}
}

// Check never fails; a failing probe is reported as down.
func (c *Checker) Check(ctx context.Context) Report {
	var pg, ch string

	// probes never return errors to the group, so one failure cannot cancel the other
	var g errgroup.Group
	g.Go(func() error {
		pg = c.probe(ctx, "postgres", c.postgres)
		return nil
	})
	g.Go(func() error {
		ch = c.probe(ctx, "clickhouse", c.clickhouse)
		return nil
	})
	_ = g.Wait()

	status := StatusOK
	if pg != Up || ch != Up {
		status = StatusDegraded
	}
	return Report{Status: status, Postgres: pg, ClickHouse: ch}
}

func (c *Checker) probe(ctx context.Context, name string, p Probe) string {
	if p == nil {
		return Down
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("ping panicked: %v", r)
			}
		}()
		errc <- p.Ping(ctx)
	}()

	select {
	case err := <-errc:
		if err != nil {
			c.log.Warn("health probe failed", "store", name, "error", err)
			return Down
		}
		return Up
	case <-ctx.Done():
		// the probe ignored its context; report it down and let it finish on its own
		c.log.Warn("health probe timed out", "store", name, "timeout", c.timeout)
		return Down
	}
}

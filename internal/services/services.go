// Package services suspends and resumes the background services that would
// disturb a benchmarking run. Units are driven over the systemd D-Bus API.
// A failing stop request is advisory only: the authoritative post-condition
// is that no process of the service remains running.
package services

import (
	"context"
	"fmt"
	"time"

	systemdDbus "github.com/coreos/go-systemd/v22/dbus"

	"github.com/milessabin/compiler-benchmark/internal/log"
	"github.com/milessabin/compiler-benchmark/internal/processes"
	"github.com/milessabin/compiler-benchmark/pkg/config"
)

const (
	// jobModeReplace replaces already queued jobs that conflict with the
	// requested one.
	jobModeReplace = "replace"
	// jobResultDone is the systemd job result indicating success.
	jobResultDone = "done"

	pollAttempts = 5
	pollDelay    = 200 * time.Millisecond
)

// systemdConnection is the part of the systemd D-Bus API the controller
// uses.
type systemdConnection interface {
	StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	Close()
}

// Controller stops and starts the configured service entries. The D-Bus
// connection is established on first use, so an invocation that never
// touches services does not require a reachable system bus.
type Controller struct {
	connFunc func(ctx context.Context) (systemdConnection, error)
	conn     systemdConnection

	// Injectable for unit testing.
	procsFunc func(ctx context.Context) ([]string, error)
	delay     time.Duration
}

// New creates a Controller connecting to the system bus on first use.
func New() *Controller {
	return &Controller{
		connFunc: func(ctx context.Context) (systemdConnection, error) {
			return systemdDbus.NewWithContext(ctx)
		},
		procsFunc: processes.Names,
		delay:     pollDelay,
	}
}

// Close releases the D-Bus connection if one was established.
func (c *Controller) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Controller) connection(ctx context.Context) (systemdConnection, error) {
	if c.conn == nil {
		conn, err := c.connFunc(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect to systemd: %w", err)
		}
		c.conn = conn
	}
	return c.conn, nil
}

// Stop suspends every entry in order. Stop request failures are tolerated
// (an in-flight job may have been canceled), but a process of the entry
// surviving the stop is fatal: benchmarking cannot proceed with the service
// still running.
func (c *Controller) Stop(ctx context.Context, entries []config.ServiceEntry) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}

	for i := range entries {
		entry := &entries[i]
		for _, unit := range entry.Units {
			ch := make(chan string, 1)
			if _, err := conn.StopUnitContext(ctx, unit, jobModeReplace, ch); err != nil {
				log.Warnf(ctx, "Stop request for unit %q failed, relying on process check: %v", unit, err)
				continue
			}
			if result := <-ch; result != jobResultDone {
				log.Warnf(ctx, "Stop job for unit %q finished with %q, relying on process check", unit, result)
			}
		}

		if err := c.awaitProcessGone(ctx, entry.Process); err != nil {
			return err
		}
		log.Infof(ctx, "Stopped service %q", entry.Process)
	}
	return nil
}

// Start resumes every entry in the same order. Services must be fully
// restored, so any failure is fatal.
func (c *Controller) Start(ctx context.Context, entries []config.ServiceEntry) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}

	for i := range entries {
		entry := &entries[i]
		for _, unit := range entry.Units {
			ch := make(chan string, 1)
			if _, err := conn.StartUnitContext(ctx, unit, jobModeReplace, ch); err != nil {
				return fmt.Errorf("start unit %q: %w", unit, err)
			}
			if result := <-ch; result != jobResultDone {
				return fmt.Errorf("start job for unit %q finished with %q", unit, result)
			}
		}
		log.Infof(ctx, "Started service %q", entry.Process)
	}
	return nil
}

// awaitProcessGone polls until no process with the given command name
// remains. Unit stop is asynchronous with respect to process exit, so a few
// bounded retries are allowed before the survivor counts as fatal.
func (c *Controller) awaitProcessGone(ctx context.Context, name string) error {
	for attempt := 0; ; attempt++ {
		running, err := c.processRunning(ctx, name)
		if err != nil {
			return fmt.Errorf("scan processes for %q: %w", name, err)
		}
		if !running {
			return nil
		}
		if attempt+1 >= pollAttempts {
			return fmt.Errorf("process %q still running after its units were stopped", name)
		}
		time.Sleep(c.delay)
	}
}

func (c *Controller) processRunning(ctx context.Context, name string) (bool, error) {
	names, err := c.procsFunc(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

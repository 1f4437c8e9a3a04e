// Package shield manages the isolated CPU set reserved for benchmark
// workloads. It drives the cset tool and never trusts its exit code alone:
// every transition is confirmed by querying the resulting cpuset state.
package shield

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"

	"github.com/milessabin/compiler-benchmark/internal/log"
	"github.com/milessabin/compiler-benchmark/utils/cmdrunner"
)

const csetName = "cset"

// Controller creates and destroys the benchmark CPU shield.
type Controller struct {
	shieldCPUs cpuset.CPUSet
}

// New creates a Controller shielding the given core range.
func New(shieldCPUs cpuset.CPUSet) *Controller {
	return &Controller{shieldCPUs: shieldCPUs}
}

// Teardown removes the shield. A failing reset is tolerated since there may
// be nothing to remove; the controller then asserts that shielding is in
// fact not active.
func (c *Controller) Teardown(ctx context.Context) error {
	out, err := cmdrunner.CombinedOutput(csetName, "shield", "--reset")
	if err != nil {
		log.Debugf(ctx, "Shield reset reported %v, assuming nothing to remove (output: %s)",
			err, strings.TrimSpace(string(out)))
	}

	out, err = cmdrunner.CombinedOutput(csetName, "shield")
	if err == nil && !strings.Contains(string(out), "not active") {
		return fmt.Errorf("shield still active after teardown (output: %s)", strings.TrimSpace(string(out)))
	}

	log.Infof(ctx, "Shield removed")
	return nil
}

// Setup tears down any existing shield, creates a fresh one over the
// configured core range and migrates kernel threads off of it. The resulting
// state must show an empty user set and a populated system set.
func (c *Controller) Setup(ctx context.Context) error {
	if err := c.Teardown(ctx); err != nil {
		return err
	}

	out, err := cmdrunner.CombinedOutput(csetName, "shield", "--cpu", c.shieldCPUs.String(), "--kthread=on")
	if err != nil {
		return fmt.Errorf("create shield over CPUs %q: %w (output: %s)",
			c.shieldCPUs.String(), err, strings.TrimSpace(string(out)))
	}

	userTasks, systemTasks, err := taskCounts()
	if err != nil {
		return err
	}
	if userTasks != 0 {
		return fmt.Errorf("user set not empty after shield setup: %d tasks", userTasks)
	}
	if systemTasks == 0 {
		return fmt.Errorf("system set empty after shield setup: kernel threads were not migrated")
	}

	log.Infof(ctx, "Shield active over CPUs %q, %d tasks in the system set", c.shieldCPUs.String(), systemTasks)
	return nil
}

// taskCounts queries cset for the task count of the user and system sets.
func taskCounts() (userTasks, systemTasks int, _ error) {
	out, err := cmdrunner.CombinedOutput(csetName, "set", "--list", "--recurse")
	if err != nil {
		return 0, 0, fmt.Errorf("list cpusets: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	userFound, systemFound := false, false
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}
		// Name, CPUs, X, MEMs, X, Tasks, Subs, Path
		tasks, err := strconv.Atoi(fields[5])
		if err != nil {
			continue
		}
		switch fields[0] {
		case "user":
			userTasks = tasks
			userFound = true
		case "system":
			systemTasks = tasks
			systemFound = true
		}
	}

	if !userFound || !systemFound {
		return 0, 0, fmt.Errorf("user or system set missing from cpuset listing (output: %s)",
			strings.TrimSpace(string(out)))
	}
	return userTasks, systemTasks, nil
}

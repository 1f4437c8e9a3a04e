// Package precheck verifies that a live machine matches the expected
// benchmarking baseline. All checks are pure reads; the first mismatch is
// returned as an error and aborts the whole set pipeline.
package precheck

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sys/unix"

	"github.com/milessabin/compiler-benchmark/internal/log"
	"github.com/milessabin/compiler-benchmark/internal/processes"
	"github.com/milessabin/compiler-benchmark/pkg/config"
)

const (
	defaultSysCPUDir  = "/sys/devices/system/cpu"
	defaultSysNodeDir = "/sys/devices/system/node"
)

// Checker runs the baseline precondition checks.
type Checker struct {
	baseline config.Baseline

	// Injectable for unit testing against fixture trees.
	sysCPUDir  string
	sysNodeDir string
	kernelFunc func() (string, error)
	countsFunc func(ctx context.Context, logical bool) (int, error)
	procsFunc  func(ctx context.Context) ([]string, error)
}

// New creates a Checker for the given baseline.
func New(baseline config.Baseline) *Checker {
	return &Checker{
		baseline:   baseline,
		sysCPUDir:  defaultSysCPUDir,
		sysNodeDir: defaultSysNodeDir,
		kernelFunc: kernelRelease,
		countsFunc: cpu.CountsWithContext,
		procsFunc:  processes.Names,
	}
}

// Run executes every check in its fixed order and returns the first
// mismatch.
func (c *Checker) Run(ctx context.Context) error {
	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"kernel release", c.checkKernelRelease},
		{"threads per core", c.checkThreadsPerCore},
		{"turbo boost", c.checkTurboDisabled},
		{"NUMA nodes", c.checkNUMANodes},
		{"scaling driver", c.checkScalingDriver},
		{"running processes", c.checkProcesses},
	}

	for _, check := range checks {
		if err := check.fn(ctx); err != nil {
			return err
		}
		log.Infof(ctx, "Precondition %q satisfied", check.name)
	}

	return nil
}

func (c *Checker) checkKernelRelease(ctx context.Context) error {
	release, err := c.kernelFunc()
	if err != nil {
		return fmt.Errorf("read kernel release: %w", err)
	}
	if release != c.baseline.KernelRelease {
		return fmt.Errorf("kernel release mismatch: expected %q, got %q",
			c.baseline.KernelRelease, release)
	}
	return nil
}

func (c *Checker) checkThreadsPerCore(ctx context.Context) error {
	logical, err := c.countsFunc(ctx, true)
	if err != nil {
		return fmt.Errorf("count logical CPUs: %w", err)
	}
	physical, err := c.countsFunc(ctx, false)
	if err != nil {
		return fmt.Errorf("count physical cores: %w", err)
	}
	if physical == 0 {
		return fmt.Errorf("count physical cores: got zero")
	}
	if threads := logical / physical; threads != c.baseline.ThreadsPerCore {
		return fmt.Errorf("threads per core mismatch: expected %d, got %d (%d logical / %d physical)",
			c.baseline.ThreadsPerCore, threads, logical, physical)
	}
	return nil
}

// checkTurboDisabled reads the driver's turbo knob. The intel_pstate driver
// exposes "no_turbo" (1 means disabled), the acpi-cpufreq driver exposes
// "boost" (0 means disabled).
func (c *Checker) checkTurboDisabled(ctx context.Context) error {
	if !c.baseline.TurboDisabled {
		log.Debugf(ctx, "Turbo boost check skipped, baseline does not require it disabled")
		return nil
	}

	noTurbo := filepath.Join(c.sysCPUDir, "intel_pstate", "no_turbo")
	if content, err := os.ReadFile(noTurbo); err == nil {
		if got := strings.TrimSpace(string(content)); got != "1" {
			return fmt.Errorf("turbo boost mismatch: expected intel_pstate/no_turbo %q, got %q", "1", got)
		}
		return nil
	}

	boost := filepath.Join(c.sysCPUDir, "cpufreq", "boost")
	content, err := os.ReadFile(boost)
	if err != nil {
		return fmt.Errorf("determine turbo boost state: %w", err)
	}
	if got := strings.TrimSpace(string(content)); got != "0" {
		return fmt.Errorf("turbo boost mismatch: expected cpufreq/boost %q, got %q", "0", got)
	}
	return nil
}

func (c *Checker) checkNUMANodes(ctx context.Context) error {
	nodes, err := filepath.Glob(filepath.Join(c.sysNodeDir, "node[0-9]*"))
	if err != nil {
		return fmt.Errorf("list NUMA nodes: %w", err)
	}
	if len(nodes) != c.baseline.NUMANodes {
		return fmt.Errorf("NUMA node count mismatch: expected %d, got %d",
			c.baseline.NUMANodes, len(nodes))
	}
	return nil
}

func (c *Checker) checkScalingDriver(ctx context.Context) error {
	driverFile := filepath.Join(c.sysCPUDir, "cpu0", "cpufreq", "scaling_driver")
	content, err := os.ReadFile(driverFile)
	if err != nil {
		return fmt.Errorf("read scaling driver: %w", err)
	}
	if driver := strings.TrimSpace(string(content)); driver != c.baseline.ScalingDriver {
		return fmt.Errorf("scaling driver mismatch: expected %q, got %q",
			c.baseline.ScalingDriver, driver)
	}
	return nil
}

// checkProcesses requires every running process command name to begin with
// one of the allowlisted prefixes.
func (c *Checker) checkProcesses(ctx context.Context) error {
	prefixes, err := loadAllowlist(c.baseline.ProcessAllowlist)
	if err != nil {
		return fmt.Errorf("load process allowlist: %w", err)
	}

	names, err := c.procsFunc(ctx)
	if err != nil {
		return fmt.Errorf("list running processes: %w", err)
	}

	for _, name := range names {
		if !hasAllowedPrefix(name, prefixes) {
			return fmt.Errorf("process %q is not covered by the allowlist %s",
				name, c.baseline.ProcessAllowlist)
		}
	}
	return nil
}

func hasAllowedPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// loadAllowlist reads permitted command name prefixes, one per line. Blank
// lines and '#' comments are ignored.
func loadAllowlist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var prefixes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prefixes = append(prefixes, line)
	}
	return prefixes, scanner.Err()
}

func kernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

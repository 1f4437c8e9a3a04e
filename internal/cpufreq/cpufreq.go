// Package cpufreq pins all logical CPUs to a fixed frequency for a
// benchmarking run and restores adaptive scaling afterward. The frequency
// tool can exit successfully while only partially applying a change, so
// every mutation is verified against sysfs before it counts as applied.
package cpufreq

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/milessabin/compiler-benchmark/internal/log"
	"github.com/milessabin/compiler-benchmark/utils/cmdrunner"
)

const (
	defaultSysCPUDir = "/sys/devices/system/cpu"

	// fixedGovernor is the manual scaling policy used while benchmarking.
	fixedGovernor = "userspace"
	// adaptiveGovernor is the scaling policy restored after a run.
	adaptiveGovernor = "ondemand"
)

var cpuDirPattern = regexp.MustCompile(`^cpu[0-9]+$`)

// Controller drives the per-CPU frequency scaling configuration.
type Controller struct {
	cpuDir string
}

// New creates a Controller against the live sysfs tree.
func New() *Controller {
	return &Controller{cpuDir: defaultSysCPUDir}
}

// SetFixed pins every logical CPU to the given frequency with the manual
// scaling policy and verifies the result per CPU.
func (c *Controller) SetFixed(ctx context.Context, frequencyMhz int) error {
	freq := fmt.Sprintf("%dMHz", frequencyMhz)
	out, err := cmdrunner.CombinedOutput("cpupower", "-c", "all", "frequency-set", "-f", freq)
	if err != nil {
		return fmt.Errorf("set frequency to %s: %w (output: %s)", freq, err, strings.TrimSpace(string(out)))
	}

	if err := c.verifyGovernor(fixedGovernor); err != nil {
		return err
	}
	if err := c.verifyFrequency(frequencyMhz * 1000); err != nil {
		return err
	}

	log.Infof(ctx, "Pinned all CPUs to %s with the %q governor", freq, fixedGovernor)
	return nil
}

// ResetAdaptive restores the adaptive scaling policy on every logical CPU
// and verifies the result per CPU.
func (c *Controller) ResetAdaptive(ctx context.Context) error {
	out, err := cmdrunner.CombinedOutput("cpupower", "-c", "all", "frequency-set", "-g", adaptiveGovernor)
	if err != nil {
		return fmt.Errorf("set governor to %q: %w (output: %s)", adaptiveGovernor, err, strings.TrimSpace(string(out)))
	}

	if err := c.verifyGovernor(adaptiveGovernor); err != nil {
		return err
	}

	log.Infof(ctx, "Restored the %q governor on all CPUs", adaptiveGovernor)
	return nil
}

func (c *Controller) verifyGovernor(expected string) error {
	cpus, err := c.cpus()
	if err != nil {
		return err
	}
	for _, cpu := range cpus {
		governorFile := filepath.Join(c.cpuDir, cpu, "cpufreq", "scaling_governor")
		content, err := os.ReadFile(governorFile)
		if err != nil {
			return fmt.Errorf("read %q: %w", governorFile, err)
		}
		if governor := strings.TrimSpace(string(content)); governor != expected {
			return fmt.Errorf("governor verification failed for %s: expected %q, got %q",
				cpu, expected, governor)
		}
	}
	return nil
}

func (c *Controller) verifyFrequency(expectedKhz int) error {
	cpus, err := c.cpus()
	if err != nil {
		return err
	}
	expected := fmt.Sprintf("%d", expectedKhz)
	for _, cpu := range cpus {
		freqFile := filepath.Join(c.cpuDir, cpu, "cpufreq", "scaling_cur_freq")
		content, err := os.ReadFile(freqFile)
		if err != nil {
			return fmt.Errorf("read %q: %w", freqFile, err)
		}
		if freq := strings.TrimSpace(string(content)); freq != expected {
			return fmt.Errorf("frequency verification failed for %s: expected %s kHz, got %s kHz",
				cpu, expected, freq)
		}
	}
	return nil
}

// cpus lists the logical CPU directory names under the sysfs CPU root.
func (c *Controller) cpus() ([]string, error) {
	entries, err := os.ReadDir(c.cpuDir)
	if err != nil {
		return nil, fmt.Errorf("list CPUs in %q: %w", c.cpuDir, err)
	}

	var cpus []string
	for _, entry := range entries {
		if entry.IsDir() && cpuDirPattern.MatchString(entry.Name()) {
			cpus = append(cpus, entry.Name())
		}
	}
	if len(cpus) == 0 {
		return nil, fmt.Errorf("no CPUs found in %q", c.cpuDir)
	}
	return cpus, nil
}

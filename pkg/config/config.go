package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"k8s.io/utils/cpuset"
)

// Baseline represents the "benv.baseline" TOML config table. It holds the
// expected machine properties checked before any tunable is touched.
type Baseline struct {
	// KernelRelease is the exact expected `uname -r` string.
	KernelRelease string `toml:"kernel_release"`

	// ThreadsPerCore is the expected SMT width. Benchmarking hosts run
	// with hyperthreading disabled, so this is normally 1.
	ThreadsPerCore int `toml:"threads_per_core"`

	// TurboDisabled indicates that turbo boost must be reported as
	// disabled by the frequency driver.
	TurboDisabled bool `toml:"turbo_disabled"`

	// NUMANodes is the expected number of NUMA nodes.
	NUMANodes int `toml:"numa_nodes"`

	// ScalingDriver is the exact expected cpufreq scaling driver name.
	ScalingDriver string `toml:"scaling_driver"`

	// ProcessAllowlist is the path to a file listing permitted command
	// name prefixes, one per line. Lines starting with '#' and blank
	// lines are ignored.
	ProcessAllowlist string `toml:"process_allowlist"`
}

// Tuning represents the "benv.tuning" TOML config table. It holds the target
// machine state applied for a benchmarking run.
type Tuning struct {
	// FixedFrequencyMhz is the frequency every logical CPU is pinned to.
	FixedFrequencyMhz int `toml:"fixed_frequency_mhz"`

	// ShieldCPUs is the core range reserved for benchmark workloads, in
	// cpuset list syntax (for example "1-7").
	ShieldCPUs string `toml:"shield_cpus"`

	// IRQAffinityCPU is the logical CPU all maskable hardware interrupts
	// are routed to during a run.
	IRQAffinityCPU int `toml:"irq_affinity_cpu"`

	// IRQBannedFiles lists interrupt affinity files that are never read,
	// written or saved. Some interrupt sources (the timer, the cascade)
	// reject affinity writes.
	IRQBannedFiles []string `toml:"irq_banned_files"`

	// SnapshotFile is the path of the persisted original interrupt
	// affinity mapping.
	SnapshotFile string `toml:"snapshot_file"`
}

// ServiceEntry represents one "benv.service" TOML table. Entries are stopped
// in file order before a run and started in the same order afterward.
type ServiceEntry struct {
	// Process is the command name the service runs as, used to verify
	// that stopping its units really terminated it.
	Process string `toml:"process"`

	// Units are the systemd unit names belonging to the service.
	Units []string `toml:"units"`
}

// Config is the unified benv configuration.
type Config struct {
	Baseline Baseline       `toml:"baseline"`
	Tuning   Tuning         `toml:"tuning"`
	Services []ServiceEntry `toml:"service"`

	// LogLevel is the level of logging (trace, debug, info, warn, error,
	// fatal, panic).
	LogLevel string `toml:"log_level"`

	// LogFilter is a regular expression applied to all log messages.
	LogFilter string `toml:"log_filter"`
}

// tomlConfig is a wrapper placing the whole configuration under a single
// "benv" table when parsing, without requiring layered structs everywhere
// else.
type tomlConfig struct {
	Benv struct{ Config } `toml:"benv"`
}

func (t *tomlConfig) toConfig(c *Config) {
	*c = t.Benv.Config
}

func (t *tomlConfig) fromConfig(c *Config) {
	t.Benv.Config = *c
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Baseline: Baseline{
			KernelRelease:    "5.4.0-89-generic",
			ThreadsPerCore:   1,
			TurboDisabled:    true,
			NUMANodes:        1,
			ScalingDriver:    "acpi-cpufreq",
			ProcessAllowlist: "/etc/benv/process.allow",
		},
		Tuning: Tuning{
			FixedFrequencyMhz: 2600,
			ShieldCPUs:        "1-7",
			IRQAffinityCPU:    0,
			IRQBannedFiles: []string{
				"/proc/irq/0/smp_affinity",
				"/proc/irq/2/smp_affinity",
			},
			SnapshotFile: "irq_affinity.snapshot",
		},
		LogLevel: "info",
	}
}

// UpdateFromFile populates the Config from the TOML-encoded file at the given
// path. Absent fields keep their current values.
func (c *Config) UpdateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	t := new(tomlConfig)
	t.fromConfig(c)

	if _, err := toml.Decode(string(data), t); err != nil {
		return errors.Wrapf(err, "unable to decode configuration %v", path)
	}

	t.toConfig(c)
	return nil
}

// ToFile outputs the given Config as a TOML-encoded file at the given path.
func (c *Config) ToFile(path string) error {
	var w bytes.Buffer
	e := toml.NewEncoder(&w)

	t := new(tomlConfig)
	t.fromConfig(c)

	if err := e.Encode(*t); err != nil {
		return err
	}

	return os.WriteFile(path, w.Bytes(), 0o644)
}

// Validate checks the configuration for fields whose values make the set or
// reset pipelines unrunnable.
func (c *Config) Validate() error {
	if c.Baseline.KernelRelease == "" {
		return errors.New("baseline kernel_release must not be empty")
	}
	if c.Baseline.ThreadsPerCore < 1 {
		return errors.New("baseline threads_per_core must be at least 1")
	}
	if c.Baseline.NUMANodes < 1 {
		return errors.New("baseline numa_nodes must be at least 1")
	}
	if c.Baseline.ScalingDriver == "" {
		return errors.New("baseline scaling_driver must not be empty")
	}

	if c.Tuning.FixedFrequencyMhz <= 0 {
		return errors.New("tuning fixed_frequency_mhz must be positive")
	}
	shield, err := c.ShieldCPUSet()
	if err != nil {
		return errors.Wrap(err, "tuning shield_cpus")
	}
	if shield.IsEmpty() {
		return errors.New("tuning shield_cpus must not be empty")
	}
	if shield.Contains(c.Tuning.IRQAffinityCPU) {
		return fmt.Errorf("tuning irq_affinity_cpu %d lies inside the shield %q",
			c.Tuning.IRQAffinityCPU, c.Tuning.ShieldCPUs)
	}
	if c.Tuning.SnapshotFile == "" {
		return errors.New("tuning snapshot_file must not be empty")
	}

	for i := range c.Services {
		entry := &c.Services[i]
		if entry.Process == "" {
			return fmt.Errorf("service entry %d has no process name", i)
		}
		if len(entry.Units) == 0 {
			return fmt.Errorf("service entry %q has no units", entry.Process)
		}
	}

	return nil
}

// ShieldCPUSet parses the configured shield core range.
func (c *Config) ShieldCPUSet() (cpuset.CPUSet, error) {
	return cpuset.Parse(c.Tuning.ShieldCPUs)
}

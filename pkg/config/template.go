package config

import (
	"io"
	"text/template"
)

// WriteTemplate writes the configuration as a commented TOML template to the
// provided writer.
func (c *Config) WriteTemplate(w io.Writer) error {
	const templateName = "config"

	tpl, err := template.New(templateName).Parse(templateString)
	if err != nil {
		return err
	}

	return tpl.ExecuteTemplate(w, templateName, c)
}

const templateString = `# The benv configuration file specifies the expected machine baseline and the
# tunables applied around a benchmarking run.

[benv]

# Level of logging. Options are:
# "trace", "debug", "info", "warn", "error", "fatal" and "panic".
log_level = "{{ .LogLevel }}"

# Filter the log messages by the provided regular expression.
log_filter = "{{ .LogFilter }}"

# The baseline table holds live machine properties verified before any
# tunable is touched. Any mismatch aborts the run.
[benv.baseline]

# Exact expected kernel release ('uname -r').
kernel_release = "{{ .Baseline.KernelRelease }}"

# Expected SMT width; 1 means hyperthreading is disabled.
threads_per_core = {{ .Baseline.ThreadsPerCore }}

# Whether turbo boost must be reported as disabled.
turbo_disabled = {{ .Baseline.TurboDisabled }}

# Expected number of NUMA nodes.
numa_nodes = {{ .Baseline.NUMANodes }}

# Exact expected cpufreq scaling driver name.
scaling_driver = "{{ .Baseline.ScalingDriver }}"

# Path to the permitted process name prefix list, one prefix per line.
process_allowlist = "{{ .Baseline.ProcessAllowlist }}"

# The tuning table holds the target machine state for a benchmarking run.
[benv.tuning]

# Frequency every logical CPU is pinned to, in MHz.
fixed_frequency_mhz = {{ .Tuning.FixedFrequencyMhz }}

# Core range reserved for benchmark workloads, in cpuset list syntax.
shield_cpus = "{{ .Tuning.ShieldCPUs }}"

# Logical CPU all maskable hardware interrupts are routed to.
irq_affinity_cpu = {{ .Tuning.IRQAffinityCPU }}

# Interrupt affinity files that are never written or saved.
irq_banned_files = [
{{ range $file := .Tuning.IRQBannedFiles }}{{ printf "\t%q,\n" $file }}{{ end }}]

# Path of the persisted original interrupt affinity mapping.
snapshot_file = "{{ .Tuning.SnapshotFile }}"

# Each service table names one background service suspended during
# benchmarking. Entries are stopped in file order and started in the same
# order on reset.
{{ range $svc := .Services }}
[[benv.service]]
process = "{{ $svc.Process }}"
units = [
{{ range $unit := $svc.Units }}{{ printf "\t%q,\n" $unit }}{{ end }}]
{{ end }}`

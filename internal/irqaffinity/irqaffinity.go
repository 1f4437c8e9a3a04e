// Package irqaffinity routes maskable hardware interrupts to a single
// reserved CPU during benchmarking and restores the original routing
// afterward. The original routing is persisted to a snapshot file on first
// use so an aborted run can always be rolled back.
package irqaffinity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"

	"github.com/milessabin/compiler-benchmark/internal/log"
	"github.com/milessabin/compiler-benchmark/pkg/config"
)

const defaultProcIRQDir = "/proc/irq"

// defaultAffinityFile is the file holding the mask applied to newly
// registered interrupts.
const defaultAffinityFile = "default_smp_affinity"

// Manager applies and reverses interrupt affinity routing.
type Manager struct {
	procIRQDir   string
	snapshotFile string
	target       cpuset.CPUSet
	banned       map[string]bool
}

// New creates a Manager from the tuning configuration.
func New(tuning config.Tuning) *Manager {
	banned := make(map[string]bool, len(tuning.IRQBannedFiles))
	for _, path := range tuning.IRQBannedFiles {
		banned[path] = true
	}
	return &Manager{
		procIRQDir:   defaultProcIRQDir,
		snapshotFile: tuning.SnapshotFile,
		target:       cpuset.New(tuning.IRQAffinityCPU),
		banned:       banned,
	}
}

// Setup routes every non-banned interrupt to the target CPU. The original
// mask of every touched file is appended to the snapshot file before the
// first write. If the snapshot file already exists a previous set invocation
// captured the true original state and it is never overwritten.
func (m *Manager) Setup(ctx context.Context) error {
	save := !fileExists(m.snapshotFile)
	if !save {
		log.Infof(ctx, "Snapshot %q exists, keeping previously saved interrupt affinity", m.snapshotFile)
	}

	targets, err := m.targets()
	if err != nil {
		return fmt.Errorf("enumerate interrupt affinity files: %w", err)
	}

	var snapshot *os.File
	if save {
		snapshot, err = os.OpenFile(m.snapshotFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("create snapshot %q: %w", m.snapshotFile, err)
		}
		defer snapshot.Close()
	}

	mask := FormatMask(m.target)
	for _, path := range targets {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %q: %w", path, err)
		}
		original := strings.TrimSpace(string(content))

		if save {
			if _, err := fmt.Fprintf(snapshot, "%s:%s\n", path, original); err != nil {
				return fmt.Errorf("save original mask of %q: %w", path, err)
			}
		}

		if err := os.WriteFile(path, []byte(mask), 0o644); err != nil {
			return fmt.Errorf("write %q to %q: %w", mask, path, err)
		}

		written, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read back %q: %w", path, err)
		}
		equal, err := MasksEqual(mask, strings.TrimSpace(string(written)))
		if err != nil {
			return fmt.Errorf("compare masks for %q: %w", path, err)
		}
		if !equal {
			return fmt.Errorf("affinity verification failed for %q: wrote %q, read back %q",
				path, mask, strings.TrimSpace(string(written)))
		}

		log.Debugf(ctx, "Routed %q to CPUs %v", path, m.target)
	}

	log.Infof(ctx, "Routed %d interrupt affinity files to CPUs %v", len(targets), m.target)
	return nil
}

// Reset restores every mask recorded in the snapshot file and deletes it.
// A missing snapshot means there is nothing to restore. The snapshot is only
// deleted after every line has been processed, so a failed restore can be
// retried.
func (m *Manager) Reset(ctx context.Context) error {
	data, err := os.ReadFile(m.snapshotFile)
	if os.IsNotExist(err) {
		log.Infof(ctx, "No snapshot %q, interrupt affinity left untouched", m.snapshotFile)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot %q: %w", m.snapshotFile, err)
	}

	restored := 0
	for i, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		path, mask, found := strings.Cut(line, ":")
		if !found {
			return fmt.Errorf("malformed snapshot line %d: %q", i+1, line)
		}

		if !fileExists(path) {
			// The interrupt source disappeared between set and
			// reset.
			log.Warnf(ctx, "Interrupt affinity file %q vanished, skipping restore", path)
			continue
		}

		if err := os.WriteFile(path, []byte(mask), 0o644); err != nil {
			return fmt.Errorf("restore %q to %q: %w", mask, path, err)
		}
		restored++
	}

	if err := os.Remove(m.snapshotFile); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", m.snapshotFile, err)
	}

	log.Infof(ctx, "Restored %d interrupt affinity files, snapshot %q deleted", restored, m.snapshotFile)
	return nil
}

// targets returns the default affinity file followed by every per-interrupt
// affinity file in ascending interrupt order, with banned files removed.
func (m *Manager) targets() ([]string, error) {
	entries, err := os.ReadDir(m.procIRQDir)
	if err != nil {
		return nil, err
	}

	irqs := make([]int, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		irq, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		irqs = append(irqs, irq)
	}
	sort.Ints(irqs)

	paths := make([]string, 0, len(irqs)+1)
	paths = append(paths, filepath.Join(m.procIRQDir, defaultAffinityFile))
	for _, irq := range irqs {
		paths = append(paths, filepath.Join(m.procIRQDir, strconv.Itoa(irq), "smp_affinity"))
	}

	allowed := paths[:0]
	for _, path := range paths {
		if m.banned[path] {
			continue
		}
		allowed = append(allowed, path)
	}
	return allowed, nil
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

package processes

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

// Names returns the command name of every running process in the node.
// Processes that vanish mid-scan are skipped.
func Names(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

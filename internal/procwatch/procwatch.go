// Package procwatch answers one question per poll: is the monitored
// application currently running? Enumeration is delegated to the OS layer
// behind the Lister interface; matching semantics live in match.go.
package procwatch

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// Record describes one candidate process returned by the OS layer.
type Record struct {
	PID            int32
	Name           string
	CommandLine    string
	ExecutablePath string
}

// Lister returns the candidate processes for a given process name.
type Lister interface {
	List(ctx context.Context, name string) ([]Record, error)
}

// SystemLister enumerates processes via gopsutil.
type SystemLister struct{}

// NewSystemLister creates a Lister backed by the local process table.
func NewSystemLister() *SystemLister {
	return &SystemLister{}
}

// List returns all processes whose name matches exactly. Command line and
// executable path are best-effort: a process may exit mid-enumeration or deny
// access, in which case the fields stay empty rather than failing the poll.
func (l *SystemLister) List(ctx context.Context, name string) ([]Record, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	var records []Record
	for _, p := range procs {
		pname, err := p.NameWithContext(ctx)
		if err != nil || pname != name {
			continue
		}

		rec := Record{PID: p.Pid, Name: pname}
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
			rec.CommandLine = cmdline
		}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			rec.ExecutablePath = exe
		}
		records = append(records, rec)
	}

	return records, nil
}

// Package procstat reports OS-level facts about a tunnel process.
package procstat

import (
	"fmt"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats is a point-in-time sample of a process.
type Stats struct {
	PID        int       `json:"pid"`
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	Threads    int32     `json:"threads"`
	CreatedAt  time.Time `json:"created_at"`
}

// Alive reports whether pid refers to a live process. Zombies that have not
// been reaped yet count as dead.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}

	status, err := p.Status()
	if err != nil {
		// Status can race with exit; existence is the stronger signal.
		return true
	}
	return !slices.Contains(status, process.Zombie)
}

// Sample collects memory, CPU and thread figures for pid.
func Sample(pid int) (Stats, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Stats{}, fmt.Errorf("looking up process %d: %w", pid, err)
	}

	st := Stats{PID: pid}

	mem, err := p.MemoryInfo()
	if err != nil {
		return Stats{}, fmt.Errorf("reading memory of %d: %w", pid, err)
	}
	st.RSSBytes = mem.RSS

	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		st.Threads = n
	}
	if ms, err := p.CreateTime(); err == nil {
		st.CreatedAt = time.UnixMilli(ms)
	}

	return st, nil
}

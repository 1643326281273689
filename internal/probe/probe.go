// Package probe reports host resources for concurrency sizing.
package probe

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// MemoryUnknown is reported when available memory cannot be determined.
const MemoryUnknown = -1

// Probe reports core count and available memory. Tests substitute fixed
// values.
type Probe interface {
	Cores() int
	AvailableMemoryMB() int
}

// Host reads the running machine.
type Host struct {
	meminfoPath string
}

func NewHost() *Host {
	return &Host{meminfoPath: "/proc/meminfo"}
}

func (h *Host) Cores() int {
	return runtime.NumCPU()
}

// AvailableMemoryMB parses MemAvailable from /proc/meminfo. On hosts
// without it the result is MemoryUnknown and concurrency decisions fall
// back to sequential.
func (h *Host) AvailableMemoryMB() int {
	f, err := os.Open(h.meminfoPath)
	if err != nil {
		return MemoryUnknown
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return MemoryUnknown
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return MemoryUnknown
		}
		return kb / 1024
	}
	return MemoryUnknown
}

// Decision is the resource-aware concurrency plan for stack gates.
type Decision struct {
	Parallel        bool
	WorkersPerStack int
}

// Decide returns the stack-gate concurrency plan. Parallel execution
// requires enough cores, known-and-sufficient memory, and at least two
// enabled stacks; anything below the bar forces sequential.
func Decide(p Probe, enabledStacks, minCores, minMemoryMB int) Decision {
	cores := p.Cores()
	if enabledStacks < 2 || cores < minCores {
		return Decision{Parallel: false, WorkersPerStack: maxInt(cores, 1)}
	}
	mem := p.AvailableMemoryMB()
	if mem == MemoryUnknown || mem < minMemoryMB {
		return Decision{Parallel: false, WorkersPerStack: maxInt(cores, 1)}
	}
	workers := cores / enabledStacks
	if workers < 1 {
		workers = 1
	}
	return Decision{Parallel: true, WorkersPerStack: workers}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

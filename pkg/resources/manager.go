// Package resources implements the in-process admission controller that
// decides whether a job's declared reservation fits under the global
// ceiling, and samples the live usage of running attempts for
// observability.
//
// Grounded on original_source/baselines/CLI-011/src/executor.py's
// ResourceManager (which tracks declared vs. measured usage with psutil)
// and on the teacher's detectTotalMemory in pkg/executor/core.go, which
// uses gopsutil the same way.
package resources

import (
	"sync"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"skeenode/pkg/metrics"
	"skeenode/pkg/models"
)

// Manager tracks declared reservations against a global ceiling and
// samples the live footprint of running job processes.
type Manager struct {
	mu     sync.Mutex
	global models.ResourceLimits

	reservedMB      int
	reservedCPUPct  float64
	runningJobs     int
	handles         map[string]*process.Process // jobID -> live process handle, optional
}

// Usage is a point-in-time snapshot of declared and measured load.
type Usage struct {
	ReservedMemoryMB int
	ReservedCPUPct   float64
	RunningJobs      int
	LiveSamples      map[string]ProcessSample
}

// ProcessSample is one job's measured footprint, when a process handle was
// registered.
type ProcessSample struct {
	RSSBytes  uint64
	CPUPercent float64
}

// NewManager builds a Manager bounded by the given global limits. When
// MaxMemoryMB is zero it falls back to a fraction of total system memory,
// mirroring the teacher's detectTotalMemory default.
func NewManager(global models.ResourceLimits) *Manager {
	if global.MaxMemoryMB == 0 {
		if vm, err := mem.VirtualMemory(); err == nil {
			global.MaxMemoryMB = int(vm.Total / (1024 * 1024) / 2)
		}
	}
	if global.MaxConcurrentJobs == 0 {
		global.MaxConcurrentJobs = 8
	}
	return &Manager{
		global:  global,
		handles: make(map[string]*process.Process),
	}
}

// CanStart reports whether a job declaring the given limits could be
// admitted right now, without reserving anything.
func (m *Manager) CanStart(limits models.ResourceLimits) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canStartLocked(limits)
}

func (m *Manager) canStartLocked(limits models.ResourceLimits) bool {
	if m.global.MaxConcurrentJobs > 0 && m.runningJobs >= m.global.MaxConcurrentJobs {
		return false
	}
	if m.global.MaxMemoryMB > 0 && limits.MaxMemoryMB > 0 &&
		m.reservedMB+limits.MaxMemoryMB > m.global.MaxMemoryMB {
		return false
	}
	return true
}

// Reserve atomically checks admission and, if granted, reserves the job's
// declared resources. Returns false without side effects if denied.
func (m *Manager) Reserve(jobID string, limits models.ResourceLimits) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canStartLocked(limits) {
		metrics.AdmissionDenied.Inc()
		return false
	}
	m.reservedMB += limits.MaxMemoryMB
	m.reservedCPUPct += limits.MaxCPUPercent
	m.runningJobs++
	metrics.ReservedMemoryMB.Set(float64(m.reservedMB))
	metrics.JobsRunning.Set(float64(m.runningJobs))
	return true
}

// Release returns a job's declared reservation to the pool and drops any
// live process handle registered for it.
func (m *Manager) Release(jobID string, limits models.ResourceLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservedMB -= limits.MaxMemoryMB
	if m.reservedMB < 0 {
		m.reservedMB = 0
	}
	m.reservedCPUPct -= limits.MaxCPUPercent
	if m.reservedCPUPct < 0 {
		m.reservedCPUPct = 0
	}
	m.runningJobs--
	if m.runningJobs < 0 {
		m.runningJobs = 0
	}
	delete(m.handles, jobID)
	metrics.ReservedMemoryMB.Set(float64(m.reservedMB))
	metrics.JobsRunning.Set(float64(m.runningJobs))
}

// RegisterProcess attaches a live PID to a running job so Usage can sample
// its real RSS/CPU. Registration failures are swallowed; live sampling is
// best-effort and never blocks dispatch.
func (m *Manager) RegisterProcess(jobID string, pid int) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	m.mu.Lock()
	m.handles[jobID] = proc
	m.mu.Unlock()
}

// GlobalLimits returns the ceiling the Manager enforces.
func (m *Manager) GlobalLimits() models.ResourceLimits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global
}

// Usage returns a snapshot of declared reservations and, for each
// registered live process, its measured RSS and CPU percent.
func (m *Manager) Usage() Usage {
	m.mu.Lock()
	handles := make(map[string]*process.Process, len(m.handles))
	for id, p := range m.handles {
		handles[id] = p
	}
	snap := Usage{
		ReservedMemoryMB: m.reservedMB,
		ReservedCPUPct:   m.reservedCPUPct,
		RunningJobs:      m.runningJobs,
		LiveSamples:      make(map[string]ProcessSample, len(handles)),
	}
	m.mu.Unlock()

	for id, p := range handles {
		sample := ProcessSample{}
		if memInfo, err := p.MemoryInfo(); err == nil && memInfo != nil {
			sample.RSSBytes = memInfo.RSS
		}
		if cpuPct, err := p.CPUPercent(); err == nil {
			sample.CPUPercent = cpuPct
		}
		snap.LiveSamples[id] = sample
	}
	return snap
}

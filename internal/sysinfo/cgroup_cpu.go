// Package sysinfo reports process CPU usage relative to its cgroup
// allocation, for the INFO CPU section: a
// container capped at 1.0 CPU pegged at 100% is a very different signal
// than a host with 64 idle cores, and plain gopsutil host percentages
// conflate the two.
package sysinfo

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// cgroupFS locates the cgroup hierarchy a process belongs to and knows
// which file layout (v1 or v2) to read it with.
type cgroupFS struct {
	root    string
	version int // 1 or 2
}

// resolveCgroupFS reads /proc/self/cgroup and returns the filesystem root
// to read CPU accounting from.
func resolveCgroupFS() (cgroupFS, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return cgroupFS{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), ":", 3)
		if len(fields) != 3 {
			continue
		}
		hierarchyID, controllers, subPath := fields[0], fields[1], fields[2]

		// Unified hierarchy: numeric id 0, no controller list.
		if hierarchyID == "0" && controllers == "" {
			return cgroupFS{root: "/sys/fs/cgroup" + subPath, version: 2}, nil
		}
		if strings.Contains(controllers, "cpu") {
			return cgroupFS{root: "/sys/fs/cgroup/cpu" + subPath, version: 1}, nil
		}
	}
	return cgroupFS{}, fmt.Errorf("no cpu controller entry in /proc/self/cgroup")
}

// quota reads the CFS bandwidth allocation. A negative quota with zero
// period means no limit is configured.
func (c cgroupFS) quota() (quota, period int64, err error) {
	if c.version == 2 {
		raw, err := os.ReadFile(c.root + "/cpu.max")
		if err != nil {
			return 0, 0, err
		}
		fields := strings.Fields(string(raw))
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("malformed cpu.max: %q", raw)
		}
		if fields[0] == "max" {
			return -1, 0, nil
		}
		quota, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		period, err = strconv.ParseInt(fields[1], 10, 64)
		return quota, period, err
	}

	quotaRaw, err := os.ReadFile(c.root + "/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, err
	}
	periodRaw, err := os.ReadFile(c.root + "/cpu.cfs_period_us")
	if err != nil {
		return 0, 0, err
	}
	quota, err = strconv.ParseInt(strings.TrimSpace(string(quotaRaw)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(strings.TrimSpace(string(periodRaw)), 10, 64)
	return quota, period, err
}

// usageMicros reads cumulative consumed CPU time in microseconds.
func (c cgroupFS) usageMicros() (uint64, error) {
	if c.version == 2 {
		stat, err := c.statFields()
		if err != nil {
			return 0, err
		}
		if v, ok := stat["usage_usec"]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("usage_usec not found in cpu.stat")
	}

	raw, err := os.ReadFile(c.root + "/cpuacct.usage")
	if err != nil {
		return 0, err
	}
	nsec, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, err
	}
	return nsec / 1000, nil
}

// statFields parses cpu.stat's "key value" lines into a map, shared by
// both the v2 usage read and the throttle read since v2 keeps both in the
// same file.
func (c cgroupFS) statFields() (map[string]uint64, error) {
	f, err := os.Open(c.root + "/cpu.stat")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]uint64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		out[fields[0]] = n
	}
	return out, nil
}

// throttle reads the CFS bandwidth controller's cumulative throttling
// counters. The wall-clock field's name and unit differ between cgroup
// versions (v2: throttled_usec, v1: throttled_time in nanoseconds) but
// both live in cpu.stat under the same root either way.
func (c cgroupFS) throttle() (ThrottleStats, error) {
	stat, err := c.statFields()
	if err != nil {
		return ThrottleStats{}, err
	}
	s := ThrottleStats{
		NrPeriods:   stat["nr_periods"],
		NrThrottled: stat["nr_throttled"],
	}
	if c.version == 2 {
		s.ThrottledSec = float64(stat["throttled_usec"]) / 1e6
	} else {
		s.ThrottledSec = float64(stat["throttled_time"]) / 1e9
	}
	return s, nil
}

// ThrottleStats is the CFS bandwidth controller's throttling counters.
type ThrottleStats struct {
	NrPeriods    uint64
	NrThrottled  uint64
	ThrottledSec float64
}

// ContainerCPU samples cumulative cgroup CPU usage and normalizes it
// against the container's quota/period allocation.
type ContainerCPU struct {
	mu sync.RWMutex

	fs cgroupFS

	cpuQuota         int64
	cpuPeriod        int64
	numCPUsAllocated float64

	lastUsageMicros uint64
	lastSampledAt   time.Time
	lastThrottle    ThrottleStats
}

// NewContainerCPU detects the calling process's cgroup and its CPU quota.
func NewContainerCPU() (*ContainerCPU, error) {
	fs, err := resolveCgroupFS()
	if err != nil {
		return nil, fmt.Errorf("detect cgroup: %w", err)
	}

	quota, period, err := fs.quota()
	if err != nil {
		return nil, fmt.Errorf("read cpu quota: %w", err)
	}

	allocated := float64(runtime.NumCPU())
	if quota > 0 && period > 0 {
		allocated = float64(quota) / float64(period)
	}

	usage, err := fs.usageMicros()
	if err != nil {
		return nil, fmt.Errorf("read initial cpu usage: %w", err)
	}

	cc := &ContainerCPU{
		fs:               fs,
		cpuQuota:         quota,
		cpuPeriod:        period,
		numCPUsAllocated: allocated,
		lastUsageMicros:  usage,
		lastSampledAt:    time.Now(),
	}
	if throttle, err := fs.throttle(); err == nil {
		cc.lastThrottle = throttle
	}
	return cc, nil
}

// GetPercent returns CPU usage as a percentage of the allocated quota
// since the previous call, plus the throttling delta over the same window.
func (cc *ContainerCPU) GetPercent() (percent float64, throttled ThrottleStats, err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	now := time.Now()
	elapsedMicros := now.Sub(cc.lastSampledAt).Microseconds()
	if elapsedMicros == 0 {
		return 0, ThrottleStats{}, fmt.Errorf("sample interval too small")
	}

	usage, err := cc.fs.usageMicros()
	if err != nil {
		return 0, ThrottleStats{}, err
	}
	usageDelta := usage - cc.lastUsageMicros
	rawPercent := (float64(usageDelta) / float64(elapsedMicros)) * 100.0
	percent = rawPercent / cc.numCPUsAllocated

	if current, err := cc.fs.throttle(); err == nil {
		throttled = ThrottleStats{
			NrPeriods:    current.NrPeriods - cc.lastThrottle.NrPeriods,
			NrThrottled:  current.NrThrottled - cc.lastThrottle.NrThrottled,
			ThrottledSec: current.ThrottledSec - cc.lastThrottle.ThrottledSec,
		}
		cc.lastThrottle = current
	}

	cc.lastUsageMicros = usage
	cc.lastSampledAt = now
	return percent, throttled, nil
}

// Allocation reports quota/period (fractional CPUs), or host core count
// when no quota is set.
func (cc *ContainerCPU) Allocation() float64 {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.numCPUsAllocated
}

// Monitor unifies container-aware and host-wide CPU measurement, falling
// back to gopsutil host sampling when no cgroup CPU controller is
// reachable (bare metal, or a sandboxed environment without /sys/fs/cgroup).
type Monitor struct {
	mode      string // "container" or "host"
	container *ContainerCPU
}

// NewMonitor builds a Monitor, preferring cgroup-aware measurement and
// logging the fallback decision either way.
func NewMonitor(logger zerolog.Logger) *Monitor {
	cc, err := NewContainerCPU()
	if err != nil {
		logger.Info().Err(err).Msg("cgroup CPU detection unavailable, falling back to host sampling")
		return &Monitor{mode: "host"}
	}
	logger.Info().
		Int("cgroup_version", cc.fs.version).
		Float64("cpus_allocated", cc.Allocation()).
		Msg("using cgroup-aware CPU measurement")
	return &Monitor{mode: "container", container: cc}
}

// GetPercent returns CPU usage normalized to the process's allocation: 0-100
// in container mode, 0-100 of all host cores combined in host mode.
func (m *Monitor) GetPercent() (float64, ThrottleStats, error) {
	if m.mode == "container" {
		return m.container.GetPercent()
	}
	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, ThrottleStats{}, err
	}
	if len(pcts) == 0 {
		return 0, ThrottleStats{}, fmt.Errorf("no cpu sample returned")
	}
	return pcts[0], ThrottleStats{}, nil
}

// Allocation reports the effective CPU budget: quota/period in container
// mode, or the host's core count.
func (m *Monitor) Allocation() float64 {
	if m.mode == "container" {
		return m.container.Allocation()
	}
	return float64(runtime.NumCPU())
}

// Mode reports which measurement strategy is active.
func (m *Monitor) Mode() string { return m.mode }

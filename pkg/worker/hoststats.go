package worker

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// hostStats samples coarse host resource usage for heartbeat reporting
// (spec §4.4: "every heartbeat reports current host CPU usage ... free RAM,
// total RAM"). No ecosystem library in the example pack targets host
// telemetry sampling, so this reads /proc directly — documented in
// DESIGN.md as the one deliberate stdlib-only exception.
type hostStats struct {
	lastIdle, lastTotal uint64
}

// cpuCount returns the logical core count advertised at registration.
func cpuCount() float64 {
	return float64(runtime.NumCPU())
}

// samplePercent returns the CPU busy percentage since the previous call (0
// on the first call, when there is no delta to compare against).
func (h *hostStats) samplePercent() float64 {
	idle, total, err := readProcStat()
	if err != nil {
		return 0
	}
	defer func() { h.lastIdle, h.lastTotal = idle, total }()

	if h.lastTotal == 0 {
		return 0
	}
	idleDelta := idle - h.lastIdle
	totalDelta := total - h.lastTotal
	if totalDelta == 0 {
		return 0
	}
	busy := float64(totalDelta-idleDelta) / float64(totalDelta) * 100
	if busy < 0 {
		return 0
	}
	if busy > 100 {
		return 100
	}
	return busy
}

func readProcStat() (idle, total uint64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, 0, scanner.Err()
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, nil
	}
	var values []uint64
	for _, f := range fields[1:] {
		v, convErr := strconv.ParseUint(f, 10, 64)
		if convErr != nil {
			continue
		}
		values = append(values, v)
		total += v
	}
	if len(values) > 3 {
		idle = values[3]
	}
	return idle, total, nil
}

// memStats reports total and free RAM in megabytes.
func memStats() (totalMb, freeMb int64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	var totalKb, availKb int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			totalKb = parseMemInfoKb(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			availKb = parseMemInfoKb(line)
		}
	}
	return totalKb / 1024, availKb / 1024
}

func parseMemInfoKb(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

//go:build linux

package stats

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// userHZ is the kernel clock tick rate /proc/stat counters are expressed
// in. Fixed at 100 on the architectures lilac runs on.
const userHZ = 100

// ProcSampler reads /proc/stat and /proc/meminfo. CPURatio is computed
// from the busy-jiffies delta between consecutive calls.
type ProcSampler struct {
	mu       sync.Mutex
	lastBusy time.Duration
	lastAt   time.Time
}

// NewProcSampler primes the first CPU sample so the first CPURatio call
// already has a window to diff against.
func NewProcSampler() *ProcSampler {
	s := &ProcSampler{}
	if busy, err := readBusyTime(); err == nil {
		s.lastBusy = busy
		s.lastAt = time.Now()
	}
	return s
}

// CPURatio implements Sampler.
func (s *ProcSampler) CPURatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	busy, err := readBusyTime()
	if err != nil {
		return 0
	}
	now := time.Now()
	defer func() {
		s.lastBusy = busy
		s.lastAt = now
	}()

	if s.lastAt.IsZero() {
		return 0
	}
	wall := now.Sub(s.lastAt)
	if wall <= 0 {
		return 0
	}
	return float64(busy-s.lastBusy) / float64(wall)
}

// MemoryAvailable implements Sampler.
func (s *ProcSampler) MemoryAvailable() int64 {
	if avail, err := readMemAvailable(); err == nil {
		return avail
	}
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err == nil {
		return int64(info.Freeram+info.Bufferram) * int64(info.Unit)
	}
	return 0
}

// readBusyTime sums the non-idle fields of the aggregate cpu line.
func readBusyTime() (time.Duration, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var busy int64
		for i, fv := range fields[1:] {
			v, err := strconv.ParseInt(fv, 10, 64)
			if err != nil {
				continue
			}
			// fields 4 and 5 are idle and iowait
			if i != 3 && i != 4 {
				busy += v
			}
		}
		return time.Duration(busy) * time.Second / userHZ, nil
	}
	return 0, os.ErrNotExist
}

func readMemAvailable() (int64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "MemAvailable:" {
			kb, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0, err
			}
			return kb * 1024, nil
		}
	}
	return 0, os.ErrNotExist
}

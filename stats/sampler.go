// Package stats samples the live host resource conditions the admission
// picker feeds on: recent CPU usage and available memory.
package stats

// DefaultMemoryBudget is charged against available memory for a pick whose
// historical usage is unknown.
const DefaultMemoryBudget int64 = 10 << 30 // 10 GiB

// Sampler reports live resource conditions.
type Sampler interface {
	// CPURatio returns the busy CPU over a recent window, in units of
	// cores: 1.0 means one core fully busy.
	CPURatio() float64

	// MemoryAvailable returns the memory available for new builds, in
	// bytes.
	MemoryAvailable() int64
}

// FixedSampler returns constant values. Used in tests.
type FixedSampler struct {
	Ratio float64
	Avail int64
}

func (s FixedSampler) CPURatio() float64      { return s.Ratio }
func (s FixedSampler) MemoryAvailable() int64 { return s.Avail }

//go:build !linux

package stats

// ProcSampler is only functional on Linux; elsewhere it reports idle CPU
// and no memory information.
type ProcSampler struct{}

func NewProcSampler() *ProcSampler { return &ProcSampler{} }

func (*ProcSampler) CPURatio() float64      { return 0 }
func (*ProcSampler) MemoryAvailable() int64 { return 0 }

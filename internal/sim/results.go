package sim

// StepInfo is the per-step episode summary exposed to the consumer.
// Field layout is part of the external buffer contract.
type StepInfo struct {
	Success        float32
	SPL            float32
	DistanceToGoal float32
}

// Results holds the per-group output buffers shared with the consumer:
// flat contiguous arrays, partitioned by env index so writers never
// collide. The consumer reads them between steps with no copy.
type Results struct {
	Rewards []float32
	Masks   []uint8
	Infos   []StepInfo
	Polars  [][2]float32
}

// NewResults sizes every buffer for n environments. Nothing is
// reallocated afterwards.
func NewResults(n int) *Results {
	return &Results{
		Rewards: make([]float32, n),
		Masks:   make([]uint8, n),
		Infos:   make([]StepInfo, n),
		Polars:  make([][2]float32, n),
	}
}

// Slot is one environment's writable view into the result buffers.
type Slot struct {
	Reward *float32
	Mask   *uint8
	Info   *StepInfo
	Polar  *[2]float32
}

// Slot returns env i's view. The pointers stay valid for the lifetime
// of the Results.
func (r *Results) Slot(i int) Slot {
	return Slot{
		Reward: &r.Rewards[i],
		Mask:   &r.Masks[i],
		Info:   &r.Infos[i],
		Polar:  &r.Polars[i],
	}
}

package consensus

import "fmt"

// Thresholds are the quorum ratios applied against the epoch's total stake.
// The skip ratio is kept separate from the slow-path ratio: protocol
// parameter sets disagree on whether skipping needs 3/5 or 2/3, so it stays
// a deployment decision rather than a hardcoded constant.
type Thresholds struct {
	FastNum uint64
	FastDen uint64
	SlowNum uint64
	SlowDen uint64
	SkipNum uint64
	SkipDen uint64
}

// DefaultThresholds: fast path 4/5, slow path and skip 3/5.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FastNum: 4, FastDen: 5,
		SlowNum: 3, SlowDen: 5,
		SkipNum: 3, SkipDen: 5,
	}
}

func (t Thresholds) Validate() error {
	ratios := []struct {
		name     string
		num, den uint64
	}{
		{"fast", t.FastNum, t.FastDen},
		{"slow", t.SlowNum, t.SlowDen},
		{"skip", t.SkipNum, t.SkipDen},
	}
	for _, r := range ratios {
		if r.den == 0 {
			return fmt.Errorf("%s threshold denominator is zero", r.name)
		}
		if r.num == 0 || r.num > r.den {
			return fmt.Errorf("%s threshold %d/%d out of (0,1]", r.name, r.num, r.den)
		}
	}
	if t.FastNum*t.SlowDen < t.SlowNum*t.FastDen {
		return fmt.Errorf("fast threshold below slow threshold")
	}
	return nil
}

package main

// computePenalty returns the dimmed brightness for a triggering scroll of the
// given magnitude, starting from the current brightness b.
//
// The dim is proportional to both b and the magnitude, so bigger jumps dim
// harder. Results below penaltyFloor (including the negative values produced
// by magnitudes over 100) become fully dark.
func computePenalty(b float64, magnitude int64) float64 {
	penalty := b - (b*float64(magnitude))/100
	if penalty < penaltyFloor {
		penalty = 0.0
	}
	return penalty
}

// clampUnit clamps v into [0,1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

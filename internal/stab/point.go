package stab

// Point is a sub-pixel image location.
type Point struct {
	X, Y float64
}

// Correspondences is the per-frame matching between tracked points in the
// previous and current frames. All four slices share one length; Valid and
// Err are per-point. The set is produced by the feature tracker, consumed
// immediately by the estimator, and never persisted.
type Correspondences struct {
	Prev  []Point
	Curr  []Point
	Valid []bool
	Err   []float64
}

// ValidCount returns the number of points still marked valid.
func (c *Correspondences) ValidCount() int {
	n := 0
	for _, v := range c.Valid {
		if v {
			n++
		}
	}
	return n
}

// ValidPairs returns the valid subset as two aligned point slices.
func (c *Correspondences) ValidPairs() (prev, curr []Point) {
	prev = make([]Point, 0, len(c.Prev))
	curr = make([]Point, 0, len(c.Curr))
	for i, v := range c.Valid {
		if v {
			prev = append(prev, c.Prev[i])
			curr = append(curr, c.Curr[i])
		}
	}
	return prev, curr
}

package feature

import (
	"math"

	"github.com/veloframe/steady.video/internal/stab"
)

// FlowConfig controls the pyramidal Lucas-Kanade tracker.
type FlowConfig struct {
	WindowRadius  int     // Half-edge of the tracking window (window = 2r+1)
	PyramidLevels int     // Pyramid depth including the base level
	MaxIterations int     // Per-level solver iteration cap
	Epsilon       float64 // Convergence threshold on the per-iteration step (px)
	ErrorCeiling  float64 // Per-point residual ceiling; above it the point is invalid
}

// DefaultFlowConfig returns the shipped LK settings (21 px window,
// 3 pyramid levels, 30 iterations).
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		WindowRadius:  10,
		PyramidLevels: 3,
		MaxIterations: 30,
		Epsilon:       0.01,
		ErrorCeiling:  30.0,
	}
}

// Internal solver guard: the 2x2 gradient matrix must have at least this
// determinant (per window pixel) to be considered well conditioned.
const minGradientDeterminant = 1e-6

// Track runs pyramidal LK flow from prev to curr for every input point and
// returns a full Correspondences set. Points are marked invalid when the
// solver hits a singular gradient matrix, the residual exceeds the error
// ceiling, or the tracked location leaves the frame.
func Track(prev, curr *Pyramid, points []stab.Point, cfg FlowConfig) *stab.Correspondences {
	n := len(points)
	out := &stab.Correspondences{
		Prev:  make([]stab.Point, n),
		Curr:  make([]stab.Point, n),
		Valid: make([]bool, n),
		Err:   make([]float64, n),
	}
	copy(out.Prev, points)

	levels := len(prev.Levels)
	if len(curr.Levels) < levels {
		levels = len(curr.Levels)
	}
	base := prev.Levels[0]

	for i, p := range points {
		d, residual, ok := trackPoint(prev, curr, p, levels, cfg)
		tracked := stab.Point{X: p.X + d.X, Y: p.Y + d.Y}
		out.Curr[i] = tracked
		out.Err[i] = residual
		switch {
		case !ok:
			out.Valid[i] = false
		case residual > cfg.ErrorCeiling:
			out.Valid[i] = false
		case tracked.X < 0 || tracked.Y < 0 ||
			tracked.X > float64(base.Width-1) || tracked.Y > float64(base.Height-1):
			out.Valid[i] = false
		default:
			out.Valid[i] = true
		}
	}
	return out
}

// trackPoint estimates the displacement of one point coarse-to-fine.
// Returns the displacement in base-level pixels, the final mean absolute
// residual over the window, and whether the solve stayed well conditioned.
func trackPoint(prev, curr *Pyramid, p stab.Point, levels int, cfg FlowConfig) (stab.Point, float64, bool) {
	r := cfg.WindowRadius
	if r < 2 {
		r = 2
	}
	// Displacement guess carried between levels, expressed at the level
	// being processed.
	var gx, gy float64
	ok := true

	for level := levels - 1; level >= 0; level-- {
		scale := float64(uint(1) << uint(level))
		px := p.X / scale
		py := p.Y / scale
		prevImg := prev.Levels[level]
		currImg := curr.Levels[level]

		// Gradient matrix over the window, from the previous image. Central
		// differences on bilinear samples; constant across iterations.
		var sxx, sxy, syy float64
		win := (2*r + 1) * (2*r + 1)
		gradX := make([]float64, 0, win)
		gradY := make([]float64, 0, win)
		tmpl := make([]float64, 0, win)
		for wy := -r; wy <= r; wy++ {
			for wx := -r; wx <= r; wx++ {
				x := px + float64(wx)
				y := py + float64(wy)
				dx := (sampleBilinear(prevImg, x+1, y) - sampleBilinear(prevImg, x-1, y)) / 2
				dy := (sampleBilinear(prevImg, x, y+1) - sampleBilinear(prevImg, x, y-1)) / 2
				gradX = append(gradX, dx)
				gradY = append(gradY, dy)
				tmpl = append(tmpl, sampleBilinear(prevImg, x, y))
				sxx += dx * dx
				sxy += dx * dy
				syy += dy * dy
			}
		}
		det := sxx*syy - sxy*sxy
		if det < minGradientDeterminant*float64(win) {
			ok = false
			break
		}

		// Iterative refinement at this level.
		var vx, vy float64
		for iter := 0; iter < cfg.MaxIterations; iter++ {
			var bx, by float64
			k := 0
			for wy := -r; wy <= r; wy++ {
				for wx := -r; wx <= r; wx++ {
					cx := px + gx + vx + float64(wx)
					cy := py + gy + vy + float64(wy)
					diff := tmpl[k] - sampleBilinear(currImg, cx, cy)
					bx += diff * gradX[k]
					by += diff * gradY[k]
					k++
				}
			}
			stepX := (syy*bx - sxy*by) / det
			stepY := (sxx*by - sxy*bx) / det
			vx += stepX
			vy += stepY
			if math.Hypot(stepX, stepY) < cfg.Epsilon {
				break
			}
		}

		if level > 0 {
			gx = 2 * (gx + vx)
			gy = 2 * (gy + vy)
		} else {
			gx += vx
			gy += vy
		}
	}

	// Final residual at the base level.
	residual := meanAbsResidual(prev.Levels[0], curr.Levels[0], p, stab.Point{X: gx, Y: gy}, r)
	return stab.Point{X: gx, Y: gy}, residual, ok
}

// meanAbsResidual measures the mean absolute intensity difference between
// the prev window at p and the curr window at p+d.
func meanAbsResidual(prevImg, currImg *stab.GrayFrame, p, d stab.Point, r int) float64 {
	var sum float64
	count := 0
	for wy := -r; wy <= r; wy++ {
		for wx := -r; wx <= r; wx++ {
			a := sampleBilinear(prevImg, p.X+float64(wx), p.Y+float64(wy))
			b := sampleBilinear(currImg, p.X+d.X+float64(wx), p.Y+d.Y+float64(wy))
			sum += math.Abs(a - b)
			count++
		}
	}
	if count == 0 {
		return math.MaxFloat64
	}
	return sum / float64(count)
}

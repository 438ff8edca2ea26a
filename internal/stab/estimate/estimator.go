// Package estimate fits a global inter-frame motion model to sparse point
// correspondences. The model is a four-parameter similarity (rotation,
// uniform scale, translation), fitted robustly: a RANSAC consensus stage
// over minimal two-point samples, then a least-squares refit over the
// inlier set.
package estimate

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/veloframe/steady.video/internal/stab"
)

// MinCorrespondences is the smallest valid-pair count the estimator will
// accept. Below it the fit is underdetermined in practice even though the
// model only needs two pairs, so the estimator declines rather than guess.
const MinCorrespondences = 6

// Config controls the robust fit.
type Config struct {
	// Iterations is the RANSAC sample count.
	Iterations int
	// InlierThreshold is the max reprojection distance (px) for a pair to
	// count toward a sample's consensus.
	InlierThreshold float64
	// MinInlierFraction rejects a consensus smaller than this fraction of
	// the valid pairs.
	MinInlierFraction float64
	// MaxTranslation bounds the fitted translation magnitude (px); larger
	// fits are reported as degenerate.
	MaxTranslation float64
	// Seed fixes the sampler for reproducible runs. Zero seeds from the
	// pair coordinates so identical input yields identical output.
	Seed int64
}

// DefaultConfig returns the shipped estimator settings.
func DefaultConfig() Config {
	return Config{
		Iterations:        64,
		InlierThreshold:   2.0,
		MinInlierFraction: 0.5,
		MaxTranslation:    100.0,
	}
}

// Result carries the fitted transform and fit diagnostics.
type Result struct {
	Transform stab.Transform
	Inliers   int
	Pairs     int
	RMSError  float64
}

// Estimator fits frame-to-frame similarity transforms.
type Estimator struct {
	cfg Config
}

// New creates an estimator with the given configuration.
func New(cfg Config) *Estimator {
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultConfig().Iterations
	}
	if cfg.InlierThreshold <= 0 {
		cfg.InlierThreshold = DefaultConfig().InlierThreshold
	}
	if cfg.MaxTranslation <= 0 {
		cfg.MaxTranslation = DefaultConfig().MaxTranslation
	}
	return &Estimator{cfg: cfg}
}

// Estimate fits the motion model to the valid pairs of corr. The second
// return value is false when the input is insufficient or the fit is
// degenerate; in both cases the transform is the identity and the caller
// treats the frame as a tracking gap, not a hard error.
func (e *Estimator) Estimate(corr *stab.Correspondences) (Result, bool) {
	prev, curr := corr.ValidPairs()
	res := Result{Transform: stab.Identity(), Pairs: len(prev)}
	if len(prev) < MinCorrespondences {
		return res, false
	}

	rng := e.rngFor(prev)

	bestInliers := make([]int, 0, len(prev))
	inliers := make([]int, 0, len(prev))
	threshSq := e.cfg.InlierThreshold * e.cfg.InlierThreshold

	for it := 0; it < e.cfg.Iterations; it++ {
		i := rng.Intn(len(prev))
		j := rng.Intn(len(prev))
		if i == j {
			continue
		}
		t, ok := similarityFromTwo(prev[i], prev[j], curr[i], curr[j])
		if !ok {
			continue
		}
		inliers = inliers[:0]
		for k := range prev {
			mx, my := t.Apply(prev[k].X, prev[k].Y)
			dx := mx - curr[k].X
			dy := my - curr[k].Y
			if dx*dx+dy*dy <= threshSq {
				inliers = append(inliers, k)
			}
		}
		if len(inliers) > len(bestInliers) {
			bestInliers = append(bestInliers[:0], inliers...)
		}
	}

	minInliers := int(e.cfg.MinInlierFraction * float64(len(prev)))
	if minInliers < MinCorrespondences {
		minInliers = MinCorrespondences
	}
	if len(bestInliers) < minInliers {
		return res, false
	}

	t, ok := refit(prev, curr, bestInliers)
	if !ok {
		return res, false
	}
	if !t.IsFinite() || !t.IsReasonable(e.cfg.MaxTranslation) {
		return res, false
	}

	res.Transform = t
	res.Inliers = len(bestInliers)
	res.RMSError = rmsError(t, prev, curr, bestInliers)
	return res, true
}

// rngFor builds the RANSAC sampler. With a zero seed the stream is keyed
// off the input coordinates so repeated runs over the same sequence pick
// the same samples.
func (e *Estimator) rngFor(prev []stab.Point) *rand.Rand {
	seed := e.cfg.Seed
	if seed == 0 {
		h := uint64(1469598103934665603)
		for _, p := range prev {
			h ^= math.Float64bits(p.X)
			h *= 1099511628211
			h ^= math.Float64bits(p.Y)
			h *= 1099511628211
		}
		seed = int64(h)
	}
	return rand.New(rand.NewSource(seed))
}

// similarityFromTwo solves the similarity exactly from two pairs. Fails
// when the source points are (near) coincident.
func similarityFromTwo(p1, p2, q1, q2 stab.Point) (stab.Transform, bool) {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	den := dx*dx + dy*dy
	if den < 1e-9 {
		return stab.Identity(), false
	}
	ux := q2.X - q1.X
	uy := q2.Y - q1.Y
	// [a b; -b a] maps (dx,dy) to (ux,uy).
	a := (ux*dx + uy*dy) / den
	b := (ux*dy - uy*dx) / den
	tx := q1.X - a*p1.X - b*p1.Y
	ty := q1.Y + b*p1.X - a*p1.Y
	return stab.Transform{A: a, B: b, TX: tx, C: -b, D: a, TY: ty}, true
}

// refit solves the four-parameter model over the inlier set by linear
// least squares. Each pair contributes two equations:
//
//	a*x + b*y + tx = u
//	a*y - b*x + ty = v
func refit(prev, curr []stab.Point, idx []int) (stab.Transform, bool) {
	rows := 2 * len(idx)
	a := mat.NewDense(rows, 4, nil)
	y := mat.NewVecDense(rows, nil)
	for n, k := range idx {
		p, q := prev[k], curr[k]
		a.SetRow(2*n, []float64{p.X, p.Y, 1, 0})
		a.SetRow(2*n+1, []float64{p.Y, -p.X, 0, 1})
		y.SetVec(2*n, q.X)
		y.SetVec(2*n+1, q.Y)
	}
	var x mat.VecDense
	if err := x.SolveVec(a, y); err != nil {
		return stab.Identity(), false
	}
	ca, cb := x.AtVec(0), x.AtVec(1)
	return stab.Transform{
		A: ca, B: cb, TX: x.AtVec(2),
		C: -cb, D: ca, TY: x.AtVec(3),
	}, true
}

// rmsError measures the root-mean-square reprojection error over idx.
func rmsError(t stab.Transform, prev, curr []stab.Point, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, k := range idx {
		mx, my := t.Apply(prev[k].X, prev[k].Y)
		dx := mx - curr[k].X
		dy := my - curr[k].Y
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum / float64(len(idx)))
}

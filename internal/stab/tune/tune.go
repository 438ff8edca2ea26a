// Package tune searches the classifier threshold space against labelled
// synthetic motion sequences. It scores a candidate threshold set by the
// fraction of frames the classifier labels correctly once its window has
// warmed up.
package tune

import (
	"math"
	"math/rand"

	"github.com/veloframe/steady.video/internal/stab"
	"github.com/veloframe/steady.video/internal/stab/classify"
)

// Sequence is a labelled synthetic motion clip: per-frame transforms plus
// the regime that generated them.
type Sequence struct {
	Name     string
	Label    classify.Regime
	Frames   []stab.Transform
	// WarmupFrames are skipped when scoring; the classifier window needs
	// to fill before its output means anything.
	WarmupFrames int
}

// GeneratorConfig controls the synthetic sequence builder.
type GeneratorConfig struct {
	Frames int
	Seed   int64
}

// DefaultGeneratorConfig returns the shipped generator settings.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{Frames: 120, Seed: 1}
}

// GenerateSuite builds one sequence per regime. The generators are tuned
// so each sequence is unambiguous for a sensible threshold set: the suite
// measures threshold quality, not classifier ambition.
func GenerateSuite(cfg GeneratorConfig) []Sequence {
	if cfg.Frames < 30 {
		cfg.Frames = 30
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	warmup := classify.DefaultWindow

	return []Sequence{
		{Name: "static", Label: classify.RegimeStatic, WarmupFrames: warmup,
			Frames: staticFrames(cfg.Frames, rng)},
		{Name: "slow_drift", Label: classify.RegimeSlowMotion, WarmupFrames: warmup,
			Frames: driftFrames(cfg.Frames, 9.0, rng)},
		{Name: "fast_sweep", Label: classify.RegimeFastMotion, WarmupFrames: warmup,
			Frames: sweepFrames(cfg.Frames, 28.0, rng)},
		{Name: "handheld_shake", Label: classify.RegimeCameraShake, WarmupFrames: warmup,
			Frames: shakeFrames(cfg.Frames, 14.0, rng)},
		{Name: "steady_pan", Label: classify.RegimePanZoom, WarmupFrames: warmup,
			Frames: panFrames(cfg.Frames, 12.0)},
	}
}

func translation(dx, dy float64) stab.Transform {
	t := stab.Identity()
	t.TX = dx
	t.TY = dy
	return t
}

// staticFrames: sub-pixel sensor noise only.
func staticFrames(n int, rng *rand.Rand) []stab.Transform {
	out := make([]stab.Transform, n)
	for i := range out {
		out[i] = translation(rng.NormFloat64()*0.3, rng.NormFloat64()*0.3)
	}
	return out
}

// driftFrames: slow wander with a random walk heading.
func driftFrames(n int, speed float64, rng *rand.Rand) []stab.Transform {
	out := make([]stab.Transform, n)
	heading := rng.Float64() * 2 * math.Pi
	for i := range out {
		heading += rng.NormFloat64() * 0.25
		out[i] = translation(
			speed*math.Cos(heading)+rng.NormFloat64(),
			speed*math.Sin(heading)+rng.NormFloat64())
	}
	return out
}

// sweepFrames: fast motion with a wandering heading, variance high enough
// to stay out of the pan band.
func sweepFrames(n int, speed float64, rng *rand.Rand) []stab.Transform {
	out := make([]stab.Transform, n)
	heading := rng.Float64() * 2 * math.Pi
	for i := range out {
		heading += rng.NormFloat64() * 0.35
		s := speed * (0.6 + 0.8*rng.Float64())
		out[i] = translation(s*math.Cos(heading), s*math.Sin(heading))
	}
	return out
}

// shakeFrames: oscillation that reverses direction almost every frame.
func shakeFrames(n int, amplitude float64, rng *rand.Rand) []stab.Transform {
	out := make([]stab.Transform, n)
	for i := range out {
		sign := 1.0
		if i%2 == 1 {
			sign = -1.0
		}
		a := amplitude * (0.4 + rng.Float64())
		out[i] = translation(sign*a, -sign*a*0.6+rng.NormFloat64())
	}
	return out
}

// panFrames: perfectly consistent directional motion.
func panFrames(n int, speed float64) []stab.Transform {
	out := make([]stab.Transform, n)
	for i := range out {
		out[i] = translation(speed, speed*0.1)
	}
	return out
}

// Score runs the classifier with the candidate thresholds over every
// sequence and returns the fraction of post-warmup frames labelled
// correctly, in [0, 1].
func Score(th classify.Thresholds, suite []Sequence) float64 {
	var correct, total int
	for _, seq := range suite {
		c := classify.New(th, classify.DefaultWindow)
		for i, t := range seq.Frames {
			c.Observe(t)
			if i < seq.WarmupFrames {
				continue
			}
			regime, _ := c.Classify()
			total++
			if regime == seq.Label {
				correct++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

// Result is one evaluated candidate.
type Result struct {
	Thresholds classify.Thresholds `json:"thresholds"`
	Accuracy   float64             `json:"accuracy"`
}

// Ranges bound the search space per threshold.
type Ranges struct {
	StaticMagnitude    [2]float64
	SlowMagnitude      [2]float64
	FastMagnitude      [2]float64
	MagnitudeVariance  [2]float64
	HighFrequencyRatio [2]float64
	ConsistencyScore   [2]float64
}

// DefaultRanges returns the shipped search bounds, centred on the shipped
// thresholds.
func DefaultRanges() Ranges {
	return Ranges{
		StaticMagnitude:    [2]float64{2, 12},
		SlowMagnitude:      [2]float64{8, 25},
		FastMagnitude:      [2]float64{25, 60},
		MagnitudeVariance:  [2]float64{1, 8},
		HighFrequencyRatio: [2]float64{0.4, 0.9},
		ConsistencyScore:   [2]float64{0.85, 0.99},
	}
}

// GridSearch evaluates a steps^3 grid over the three magnitude thresholds
// with the remaining thresholds fixed at their defaults, and returns the
// best candidates, best first, capped at topN.
func GridSearch(suite []Sequence, r Ranges, steps, topN int) []Result {
	if steps < 2 {
		steps = 2
	}
	base := classify.DefaultThresholds()
	var results []Result
	for i := 0; i < steps; i++ {
		for j := 0; j < steps; j++ {
			for k := 0; k < steps; k++ {
				th := base
				th.StaticMagnitude = gridValue(r.StaticMagnitude, i, steps)
				th.SlowMagnitude = gridValue(r.SlowMagnitude, j, steps)
				th.FastMagnitude = gridValue(r.FastMagnitude, k, steps)
				if th.StaticMagnitude >= th.SlowMagnitude || th.SlowMagnitude >= th.FastMagnitude {
					continue
				}
				results = append(results, Result{Thresholds: th, Accuracy: Score(th, suite)})
			}
		}
	}
	return top(results, topN)
}

// RandomSearch evaluates n uniform random candidates over the full
// threshold space and returns the best, best first, capped at topN.
func RandomSearch(suite []Sequence, r Ranges, n, topN int, seed int64) []Result {
	rng := rand.New(rand.NewSource(seed))
	var results []Result
	for i := 0; i < n; i++ {
		th := classify.Thresholds{
			StaticMagnitude:    uniform(rng, r.StaticMagnitude),
			SlowMagnitude:      uniform(rng, r.SlowMagnitude),
			FastMagnitude:      uniform(rng, r.FastMagnitude),
			MagnitudeVariance:  uniform(rng, r.MagnitudeVariance),
			HighFrequencyRatio: uniform(rng, r.HighFrequencyRatio),
			ConsistencyScore:   uniform(rng, r.ConsistencyScore),
		}
		if th.StaticMagnitude >= th.SlowMagnitude || th.SlowMagnitude >= th.FastMagnitude {
			continue
		}
		results = append(results, Result{Thresholds: th, Accuracy: Score(th, suite)})
	}
	return top(results, topN)
}

func gridValue(bounds [2]float64, i, steps int) float64 {
	return bounds[0] + (bounds[1]-bounds[0])*float64(i)/float64(steps-1)
}

func uniform(rng *rand.Rand, bounds [2]float64) float64 {
	return bounds[0] + rng.Float64()*(bounds[1]-bounds[0])
}

// top sorts results by accuracy descending (insertion sort; candidate
// counts are small) and truncates to n.
func top(results []Result, n int) []Result {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Accuracy > results[j-1].Accuracy; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
	if n > 0 && len(results) > n {
		results = results[:n]
	}
	return results
}

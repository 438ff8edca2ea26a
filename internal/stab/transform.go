package stab

import (
	"fmt"
	"math"
)

// Numerical guards for transform inversion — not user-tunable.
const (
	// MinInvertibleDeterminant is the smallest 2x2 determinant a transform
	// may have and still be inverted; below this the inverse degenerates.
	MinInvertibleDeterminant = 1e-9

	// IdentityEpsilon is the per-coefficient tolerance used by IsIdentity.
	IdentityEpsilon = 1e-9
)

// Transform is a 2D affine motion descriptor, the 2x3 matrix
//
//	[ A  B  TX ]
//	[ C  D  TY ]
//
// mapping a point (x, y) to (A*x + B*y + TX, C*x + D*y + TY).
// It is a value type: every per-frame estimate, every history entry and
// every corrective output is a Transform.
type Transform struct {
	A, B, TX float64
	C, D, TY float64
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{A: 1, D: 1}
}

// IsIdentity reports whether t is the identity within IdentityEpsilon.
func (t Transform) IsIdentity() bool {
	return math.Abs(t.A-1) < IdentityEpsilon &&
		math.Abs(t.B) < IdentityEpsilon &&
		math.Abs(t.TX) < IdentityEpsilon &&
		math.Abs(t.C) < IdentityEpsilon &&
		math.Abs(t.D-1) < IdentityEpsilon &&
		math.Abs(t.TY) < IdentityEpsilon
}

// IsFinite reports whether every coefficient is finite (no NaN or ±Inf).
// Estimation on degenerate correspondences can produce non-finite
// coefficients; callers must reject those before they enter the history.
func (t Transform) IsFinite() bool {
	for _, v := range [6]float64{t.A, t.B, t.TX, t.C, t.D, t.TY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Translation returns the translation components (TX, TY).
func (t Transform) Translation() (dx, dy float64) {
	return t.TX, t.TY
}

// TranslationMagnitude returns the Euclidean length of the translation part.
func (t Transform) TranslationMagnitude() float64 {
	return math.Hypot(t.TX, t.TY)
}

// Rotation returns the rotation angle in radians extracted from the linear
// part. For a similarity transform s*[cosθ -sinθ; sinθ cosθ] this is θ.
func (t Transform) Rotation() float64 {
	return math.Atan2(t.B, t.A)
}

// ScaleDeviation returns |A-1| + |D-1|, the combined deviation of the
// diagonal coefficients from unit scale.
func (t Transform) ScaleDeviation() float64 {
	return math.Abs(t.A-1) + math.Abs(t.D-1)
}

// Magnitude collapses the transform into a single scalar motion measure:
// translation length plus weighted scale and rotation deviations. The
// weights (100 for scale, 200 for rotation) put a 1% scale change and a
// half-degree rotation on roughly the same footing as a 1 px translation,
// which is what the classifier thresholds are calibrated against.
func (t Transform) Magnitude() float64 {
	return t.TranslationMagnitude() + t.ScaleDeviation()*100 + math.Abs(t.Rotation())*200
}

// Mul returns the composition t∘u: apply u first, then t.
func (t Transform) Mul(u Transform) Transform {
	return Transform{
		A:  t.A*u.A + t.B*u.C,
		B:  t.A*u.B + t.B*u.D,
		TX: t.A*u.TX + t.B*u.TY + t.TX,
		C:  t.C*u.A + t.D*u.C,
		D:  t.C*u.B + t.D*u.D,
		TY: t.C*u.TX + t.D*u.TY + t.TY,
	}
}

// Invert returns the inverse transform and true, or the identity and false
// when the linear part is singular (determinant below
// MinInvertibleDeterminant).
func (t Transform) Invert() (Transform, bool) {
	det := t.A*t.D - t.B*t.C
	if math.Abs(det) < MinInvertibleDeterminant {
		return Identity(), false
	}
	ia := t.D / det
	ib := -t.B / det
	ic := -t.C / det
	id := t.A / det
	return Transform{
		A:  ia,
		B:  ib,
		TX: -(ia*t.TX + ib*t.TY),
		C:  ic,
		D:  id,
		TY: -(ic*t.TX + id*t.TY),
	}, true
}

// Apply maps the point (x, y) through the transform.
func (t Transform) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.B*y + t.TX, t.C*x + t.D*y + t.TY
}

// Interpolate returns a + (b - a) * frac per coefficient. frac is clamped
// to [0, 1].
func Interpolate(a, b Transform, frac float64) Transform {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return Transform{
		A:  a.A + (b.A-a.A)*frac,
		B:  a.B + (b.B-a.B)*frac,
		TX: a.TX + (b.TX-a.TX)*frac,
		C:  a.C + (b.C-a.C)*frac,
		D:  a.D + (b.D-a.D)*frac,
		TY: a.TY + (b.TY-a.TY)*frac,
	}
}

// AverageTransforms returns the component-wise arithmetic mean of the given
// transforms, or the identity when the slice is empty.
func AverageTransforms(transforms []Transform) Transform {
	if len(transforms) == 0 {
		return Identity()
	}
	var sum Transform
	for _, t := range transforms {
		sum.A += t.A
		sum.B += t.B
		sum.TX += t.TX
		sum.C += t.C
		sum.D += t.D
		sum.TY += t.TY
	}
	n := float64(len(transforms))
	return Transform{
		A: sum.A / n, B: sum.B / n, TX: sum.TX / n,
		C: sum.C / n, D: sum.D / n, TY: sum.TY / n,
	}
}

// IsReasonable reports whether the transform describes plausible
// frame-to-frame camera motion: finite coefficients, translation within
// maxTranslationPx, and scale deviation under 50%. Estimates failing this
// check are treated as degenerate and discarded by the engine.
func (t Transform) IsReasonable(maxTranslationPx float64) bool {
	if !t.IsFinite() {
		return false
	}
	if t.TranslationMagnitude() > maxTranslationPx {
		return false
	}
	if t.ScaleDeviation() > 0.5 {
		return false
	}
	return true
}

// String renders the transform for logging.
func (t Transform) String() string {
	return fmt.Sprintf("[%.4f %.4f %.2f; %.4f %.4f %.2f]", t.A, t.B, t.TX, t.C, t.D, t.TY)
}

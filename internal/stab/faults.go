package stab

import "errors"

// Fault taxonomy for per-frame processing. All of these are recovered
// inside the engine; none escapes ProcessFrame. They exist as sentinels so
// recovery paths can branch with errors.Is instead of string matching.
var (
	// ErrConfiguration marks an out-of-range or inconsistent parameter.
	// Handled by clamping and a warning, never fatal.
	ErrConfiguration = errors.New("configuration error")

	// ErrTrackingFailure marks a tracking computation error or a
	// correspondence count below the usable minimum. Triggers forced
	// re-detection and increments the failure counter.
	ErrTrackingFailure = errors.New("tracking failure")

	// ErrTransformDegenerate marks an estimate that produced an implausible
	// transform. The estimate is discarded and the previous smoothed
	// transform reused.
	ErrTransformDegenerate = errors.New("degenerate transform")

	// ErrRepeatedFailure marks the consecutive-failure ceiling being
	// exceeded; the engine escalates to Failed.
	ErrRepeatedFailure = errors.New("repeated failure")

	// ErrUnknownFault is the catch-all for unexpected internal faults
	// (recovered panics). Logged as critical and treated as a tracking
	// failure for recovery purposes.
	ErrUnknownFault = errors.New("unknown fault")
)

// Package stab holds the shared types of the stabilization core: the 2x3
// affine Transform, the single-channel GrayFrame and its pixel-format
// converters, the tunable parameter set, the fault taxonomy, and the
// package logging streams.
//
// The processing layers live in subpackages and are strictly layered:
//
//	feature  -> sparse corner detection and pyramidal optical flow
//	estimate -> robust per-frame transform estimation
//	smooth   -> rolling transform history and corrective transform
//	classify -> motion regime classification over the history window
//	adaptive -> per-regime parameter presets and smooth transitions
//	engine   -> orchestration, state machine, metrics
//
// Each subpackage imports only stab and lower layers; engine wires them
// together once per video stream.
package stab

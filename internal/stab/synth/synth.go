// Package synth renders synthetic textured frame sequences with a known
// camera motion script. The replay tool and the pipeline tests both use
// it: because the true inter-frame motion is known, estimator output can
// be checked against ground truth.
package synth

import (
	"math"
	"math/rand"

	"github.com/veloframe/steady.video/internal/stab"
)

// Scene is a procedurally textured world larger than the output frame.
// Frames are cropped from it at a moving offset.
type Scene struct {
	tex    *stab.GrayFrame
	frameW int
	frameH int
	// margin keeps the crop window inside the texture.
	margin float64
}

// NewScene builds a textured scene for the given output frame size. The
// texture is random smooth blobs over noise, giving the corner detector
// plenty to hold on to.
func NewScene(frameW, frameH int, seed int64) *Scene {
	rng := rand.New(rand.NewSource(seed))
	margin := 160
	w := frameW + 2*margin
	h := frameH + 2*margin
	tex := stab.NewGrayFrame(w, h)

	// Base noise.
	for i := range tex.Pix {
		tex.Pix[i] = uint8(100 + rng.Intn(40))
	}
	// Bright and dark blobs.
	for b := 0; b < 400; b++ {
		cx := rng.Float64() * float64(w)
		cy := rng.Float64() * float64(h)
		r := 3 + rng.Float64()*12
		amp := float64(rng.Intn(200) - 100)
		x0, x1 := int(cx-r), int(cx+r)
		y0, y1 := int(cy-r), int(cy+r)
		for y := max(y0, 0); y <= min(y1, h-1); y++ {
			for x := max(x0, 0); x <= min(x1, w-1); x++ {
				dx := float64(x) - cx
				dy := float64(y) - cy
				d2 := dx*dx + dy*dy
				if d2 > r*r {
					continue
				}
				falloff := 1 - math.Sqrt(d2)/r
				v := float64(tex.Pix[y*tex.Stride+x]) + amp*falloff
				if v < 0 {
					v = 0
				}
				if v > 255 {
					v = 255
				}
				tex.Pix[y*tex.Stride+x] = uint8(v)
			}
		}
	}
	return &Scene{tex: tex, frameW: frameW, frameH: frameH, margin: float64(margin)}
}

// FrameAt renders the frame with the camera at offset (ox, oy) from the
// scene centre, sampled bilinearly so sub-pixel motion is preserved. The
// offset is clamped to the texture margin.
func (s *Scene) FrameAt(ox, oy float64) *stab.GrayFrame {
	ox = clamp(ox, -s.margin+1, s.margin-1)
	oy = clamp(oy, -s.margin+1, s.margin-1)
	out := stab.NewGrayFrame(s.frameW, s.frameH)
	baseX := s.margin + ox
	baseY := s.margin + oy
	for y := 0; y < s.frameH; y++ {
		for x := 0; x < s.frameW; x++ {
			out.Pix[y*out.Stride+x] = uint8(sample(s.tex, baseX+float64(x), baseY+float64(y)) + 0.5)
		}
	}
	return out
}

// HostFrameAt renders FrameAt wrapped as a GRAY8 host frame.
func (s *Scene) HostFrameAt(ox, oy float64) *stab.HostFrame {
	g := s.FrameAt(ox, oy)
	return &stab.HostFrame{
		Format:  stab.FormatGray8,
		Width:   g.Width,
		Height:  g.Height,
		Planes:  [][]uint8{g.Pix},
		Strides: []int{g.Stride},
	}
}

// Script yields the camera offset for each frame index.
type Script func(frame int) (ox, oy float64)

// StaticScript: tripod with sensor-level noise.
func StaticScript(seed int64) Script {
	rng := rand.New(rand.NewSource(seed))
	return func(int) (float64, float64) {
		return rng.NormFloat64() * 0.2, rng.NormFloat64() * 0.2
	}
}

// ShakeScript: handheld oscillation around the origin.
func ShakeScript(amplitude float64, seed int64) Script {
	rng := rand.New(rand.NewSource(seed))
	return func(frame int) (float64, float64) {
		ph := float64(frame)
		return amplitude*math.Sin(ph*2.1) + rng.NormFloat64()*0.5,
			amplitude*math.Cos(ph*1.7) + rng.NormFloat64()*0.5
	}
}

// PanScript: constant-velocity pan.
func PanScript(vx, vy float64) Script {
	return func(frame int) (float64, float64) {
		return vx * float64(frame), vy * float64(frame)
	}
}

// ScriptFor maps a scenario name to a script, or ok=false.
func ScriptFor(name string, seed int64) (Script, bool) {
	switch name {
	case "static":
		return StaticScript(seed), true
	case "shake":
		return ShakeScript(4.0, seed), true
	case "pan":
		return PanScript(1.5, 0.2), true
	default:
		return nil, false
	}
}

func sample(f *stab.GrayFrame, x, y float64) float64 {
	x0 := int(x)
	y0 := int(y)
	x1 := min(x0+1, f.Width-1)
	y1 := min(y0+1, f.Height-1)
	fx := x - float64(x0)
	fy := y - float64(y0)
	p00 := float64(f.Pix[y0*f.Stride+x0])
	p01 := float64(f.Pix[y0*f.Stride+x1])
	p10 := float64(f.Pix[y1*f.Stride+x0])
	p11 := float64(f.Pix[y1*f.Stride+x1])
	top := p00 + (p01-p00)*fx
	bot := p10 + (p11-p10)*fx
	return top + (bot-top)*fy
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package feature

import "github.com/veloframe/steady.video/internal/stab"

// Pyramid is a coarse-to-fine stack of half-resolution frames.
// Level 0 is the original frame; each level above halves both dimensions.
type Pyramid struct {
	Levels []*stab.GrayFrame
}

// BuildPyramid constructs up to maxLevels levels. Construction stops early
// when a level would fall below 2x the LK window, so the solver always has
// room to sample.
func BuildPyramid(frame *stab.GrayFrame, maxLevels, window int) *Pyramid {
	if maxLevels < 1 {
		maxLevels = 1
	}
	minDim := 2 * window
	if minDim < 16 {
		minDim = 16
	}
	p := &Pyramid{Levels: make([]*stab.GrayFrame, 0, maxLevels)}
	p.Levels = append(p.Levels, frame)
	for len(p.Levels) < maxLevels {
		top := p.Levels[len(p.Levels)-1]
		if top.Width/2 < minDim || top.Height/2 < minDim {
			break
		}
		p.Levels = append(p.Levels, downsample(top))
	}
	return p
}

// downsample halves a frame with a 2x2 box average.
func downsample(src *stab.GrayFrame) *stab.GrayFrame {
	w := src.Width / 2
	h := src.Height / 2
	dst := stab.NewGrayFrame(w, h)
	for y := 0; y < h; y++ {
		r0 := 2 * y * src.Stride
		r1 := r0 + src.Stride
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			c := 2 * x
			sum := uint16(src.Pix[r0+c]) + uint16(src.Pix[r0+c+1]) +
				uint16(src.Pix[r1+c]) + uint16(src.Pix[r1+c+1])
			out[x] = uint8((sum + 2) / 4)
		}
	}
	return dst
}

// sampleBilinear reads the frame at a sub-pixel location with clamping.
func sampleBilinear(f *stab.GrayFrame, x, y float64) float64 {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	maxX := float64(f.Width - 1)
	maxY := float64(f.Height - 1)
	if x > maxX {
		x = maxX
	}
	if y > maxY {
		y = maxY
	}
	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= f.Width {
		x1 = f.Width - 1
	}
	if y1 >= f.Height {
		y1 = f.Height - 1
	}
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

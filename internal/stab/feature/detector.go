// Package feature implements sparse feature detection and tracking: a
// min-eigenvalue corner detector and a pyramidal Lucas-Kanade optical flow
// tracker over single-channel intensity frames.
package feature

import (
	"math"
	"sort"

	"github.com/veloframe/steady.video/internal/stab"
)

// DetectorConfig controls corner detection.
type DetectorConfig struct {
	MaxFeatures  int     // Detection budget (corners returned, strongest first)
	QualityLevel float64 // Response floor relative to the strongest corner [0.001, 0.1]
	MinDistance  float64 // Minimum pairwise corner distance (px)
	BlockSize    int     // Structure tensor window edge; odd
}

// corner is an internal detection candidate.
type corner struct {
	x, y     int
	response float32
}

// DetectCorners finds up to cfg.MaxFeatures strong corners in the frame
// using the min-eigenvalue (Shi-Tomasi) response over a BlockSize window,
// with greedy minimum-distance suppression. Frames smaller than
// stab.MinFrameDim on either edge yield an empty set; that is a non-fatal
// condition the caller reports as a degraded state, not an error.
func DetectCorners(frame *stab.GrayFrame, cfg DetectorConfig) []stab.Point {
	if !frame.Usable() {
		return nil
	}
	w, h := frame.Width, frame.Height

	ix, iy := sobelGradients(frame)

	// Gradient products, then a box sum over the BlockSize window. The box
	// sum is separable: horizontal running sums followed by vertical.
	n := w * h
	ixx := make([]float32, n)
	ixy := make([]float32, n)
	iyy := make([]float32, n)
	for i := 0; i < n; i++ {
		gx, gy := ix[i], iy[i]
		ixx[i] = gx * gx
		ixy[i] = gx * gy
		iyy[i] = gy * gy
	}
	radius := cfg.BlockSize / 2
	if radius < 1 {
		radius = 1
	}
	boxSumInPlace(ixx, w, h, radius)
	boxSumInPlace(ixy, w, h, radius)
	boxSumInPlace(iyy, w, h, radius)

	// Min-eigenvalue response of the 2x2 structure tensor:
	// lambda_min = (Sxx + Syy - sqrt((Sxx - Syy)^2 + 4*Sxy^2)) / 2
	response := make([]float32, n)
	var maxResp float32
	border := radius + 1
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			i := y*w + x
			sxx := float64(ixx[i])
			sxy := float64(ixy[i])
			syy := float64(iyy[i])
			d := sxx - syy
			lambda := float32((sxx + syy - math.Sqrt(d*d+4*sxy*sxy)) / 2)
			response[i] = lambda
			if lambda > maxResp {
				maxResp = lambda
			}
		}
	}
	if maxResp <= 0 {
		return nil
	}
	threshold := float32(cfg.QualityLevel) * maxResp

	// Candidates above the quality floor that are also 3x3 local maxima.
	candidates := make([]corner, 0, 1024)
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			r := response[y*w+x]
			if r < threshold {
				continue
			}
			if r < response[(y-1)*w+x] || r < response[(y+1)*w+x] ||
				r < response[y*w+x-1] || r < response[y*w+x+1] ||
				r < response[(y-1)*w+x-1] || r < response[(y-1)*w+x+1] ||
				r < response[(y+1)*w+x-1] || r < response[(y+1)*w+x+1] {
				continue
			}
			candidates = append(candidates, corner{x: x, y: y, response: r})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].response > candidates[j].response
	})

	return suppressByDistance(candidates, cfg.MaxFeatures, cfg.MinDistance, w, h)
}

// suppressByDistance greedily accepts candidates strongest-first, rejecting
// any within minDist of an accepted corner. Accepted corners are bucketed
// into a grid with cell edge minDist so each check touches at most 9 cells.
func suppressByDistance(candidates []corner, maxFeatures int, minDist float64, w, h int) []stab.Point {
	if maxFeatures <= 0 || len(candidates) == 0 {
		return nil
	}
	if minDist < 1 {
		minDist = 1
	}
	cell := int(math.Ceil(minDist))
	gw := (w + cell - 1) / cell
	gh := (h + cell - 1) / cell
	grid := make([][]stab.Point, gw*gh)
	minDistSq := minDist * minDist

	out := make([]stab.Point, 0, maxFeatures)
	for _, c := range candidates {
		if len(out) >= maxFeatures {
			break
		}
		cx, cy := c.x/cell, c.y/cell
		ok := true
	neighbours:
		for gy := cy - 1; gy <= cy+1; gy++ {
			if gy < 0 || gy >= gh {
				continue
			}
			for gx := cx - 1; gx <= cx+1; gx++ {
				if gx < 0 || gx >= gw {
					continue
				}
				for _, p := range grid[gy*gw+gx] {
					dx := p.X - float64(c.x)
					dy := p.Y - float64(c.y)
					if dx*dx+dy*dy < minDistSq {
						ok = false
						break neighbours
					}
				}
			}
		}
		if !ok {
			continue
		}
		p := stab.Point{X: float64(c.x), Y: float64(c.y)}
		grid[cy*gw+cx] = append(grid[cy*gw+cx], p)
		out = append(out, p)
	}
	return out
}

// sobelGradients computes 3x3 Sobel x/y gradients. Border pixels are left
// zero; the detector and tracker both stay off the border anyway.
func sobelGradients(frame *stab.GrayFrame) (ix, iy []float32) {
	w, h := frame.Width, frame.Height
	ix = make([]float32, w*h)
	iy = make([]float32, w*h)
	pix := frame.Pix
	stride := frame.Stride
	for y := 1; y < h-1; y++ {
		rm := (y - 1) * stride
		r0 := y * stride
		rp := (y + 1) * stride
		for x := 1; x < w-1; x++ {
			tl := int32(pix[rm+x-1])
			tc := int32(pix[rm+x])
			tr := int32(pix[rm+x+1])
			ml := int32(pix[r0+x-1])
			mr := int32(pix[r0+x+1])
			bl := int32(pix[rp+x-1])
			bc := int32(pix[rp+x])
			br := int32(pix[rp+x+1])
			// Sobel kernels, 1/8 normalisation folded in.
			gx := (tr + 2*mr + br) - (tl + 2*ml + bl)
			gy := (bl + 2*bc + br) - (tl + 2*tc + tr)
			i := y*w + x
			ix[i] = float32(gx) * 0.125
			iy[i] = float32(gy) * 0.125
		}
	}
	return ix, iy
}

// boxSumInPlace replaces src with the sum of values in the (2r+1)^2 box
// around each element, computed as two separable running-sum passes.
func boxSumInPlace(src []float32, w, h, r int) {
	// Horizontal pass.
	row := make([]float32, w)
	for y := 0; y < h; y++ {
		base := y * w
		copy(row, src[base:base+w])
		var sum float32
		for x := 0; x <= r && x < w; x++ {
			sum += row[x]
		}
		for x := 0; x < w; x++ {
			src[base+x] = sum
			if add := x + r + 1; add < w {
				sum += row[add]
			}
			if sub := x - r; sub >= 0 {
				sum -= row[sub]
			}
		}
	}
	// Vertical pass.
	col := make([]float32, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = src[y*w+x]
		}
		var sum float32
		for y := 0; y <= r && y < h; y++ {
			sum += col[y]
		}
		for y := 0; y < h; y++ {
			src[y*w+x] = sum
			if add := y + r + 1; add < h {
				sum += col[add]
			}
			if sub := y - r; sub >= 0 {
				sum -= col[sub]
			}
		}
	}
}

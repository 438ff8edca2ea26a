package stab

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"
)

// MinFrameDim is the smallest usable frame edge. Feature detection on
// anything smaller is unreliable, so such frames are rejected up front.
const MinFrameDim = 50

// GrayFrame is a single-channel 8-bit intensity buffer with an explicit
// row stride. It is the only pixel representation the core ever sees;
// colour conversion happens in a FrameConverter before the pipeline runs.
type GrayFrame struct {
	Pix    []uint8
	Width  int
	Height int
	Stride int
}

// NewGrayFrame allocates a packed (stride == width) frame.
func NewGrayFrame(width, height int) *GrayFrame {
	return &GrayFrame{
		Pix:    make([]uint8, width*height),
		Width:  width,
		Height: height,
		Stride: width,
	}
}

// At returns the intensity at (x, y). Bounds are the caller's problem;
// the hot loops in feature/ do their own clamping.
func (f *GrayFrame) At(x, y int) uint8 {
	return f.Pix[y*f.Stride+x]
}

// Usable reports whether the frame meets the minimum size for feature work.
func (f *GrayFrame) Usable() bool {
	return f != nil && f.Width >= MinFrameDim && f.Height >= MinFrameDim &&
		len(f.Pix) >= (f.Height-1)*f.Stride+f.Width
}

// Clone returns a packed deep copy of the frame.
func (f *GrayFrame) Clone() *GrayFrame {
	out := NewGrayFrame(f.Width, f.Height)
	for y := 0; y < f.Height; y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+f.Width], f.Pix[y*f.Stride:y*f.Stride+f.Width])
	}
	return out
}

// PixelFormat identifies the host frame layout feeding a stream.
type PixelFormat int

const (
	FormatGray8 PixelFormat = iota
	FormatNV12
	FormatI420
	FormatRGBA
	FormatBGRA
)

func (p PixelFormat) String() string {
	switch p {
	case FormatGray8:
		return "GRAY8"
	case FormatNV12:
		return "NV12"
	case FormatI420:
		return "I420"
	case FormatRGBA:
		return "RGBA"
	case FormatBGRA:
		return "BGRA"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(p))
	}
}

// HostFrame is the raw frame handed over by the host video pipeline.
// Planes and strides are indexed per plane; packed formats use plane 0.
type HostFrame struct {
	Format  PixelFormat
	Width   int
	Height  int
	Planes  [][]uint8
	Strides []int
}

// FrameConverter turns a HostFrame into a GrayFrame. A converter is
// selected once per stream via ConverterFor and reused for every frame, so
// the hot path never branches on pixel format. Each converter owns one
// reusable destination buffer; concurrent streams need separate converters.
type FrameConverter interface {
	Format() PixelFormat
	Convert(src *HostFrame) (*GrayFrame, error)
}

// ConverterFor returns a converter for the given format, or an error for
// formats the core cannot consume.
func ConverterFor(format PixelFormat) (FrameConverter, error) {
	switch format {
	case FormatGray8:
		return &grayConverter{}, nil
	case FormatNV12, FormatI420:
		return &yPlaneConverter{format: format}, nil
	case FormatRGBA, FormatBGRA:
		return &packedLumaConverter{format: format}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported pixel format %s", ErrConfiguration, format)
	}
}

func validateHostFrame(src *HostFrame, wantPlanes int) error {
	if src == nil {
		return fmt.Errorf("%w: nil host frame", ErrTrackingFailure)
	}
	if src.Width <= 0 || src.Height <= 0 {
		return fmt.Errorf("%w: bad frame dimensions %dx%d", ErrTrackingFailure, src.Width, src.Height)
	}
	if len(src.Planes) < wantPlanes || len(src.Strides) < wantPlanes {
		return fmt.Errorf("%w: frame has %d planes, need %d", ErrTrackingFailure, len(src.Planes), wantPlanes)
	}
	return nil
}

// grayConverter wraps a GRAY8 host frame without copying.
type grayConverter struct {
	view GrayFrame
}

func (c *grayConverter) Format() PixelFormat { return FormatGray8 }

func (c *grayConverter) Convert(src *HostFrame) (*GrayFrame, error) {
	if err := validateHostFrame(src, 1); err != nil {
		return nil, err
	}
	c.view = GrayFrame{
		Pix:    src.Planes[0],
		Width:  src.Width,
		Height: src.Height,
		Stride: src.Strides[0],
	}
	return &c.view, nil
}

// yPlaneConverter views the Y plane of an NV12 or I420 frame. Both formats
// carry a full-resolution luma plane first, which is exactly the intensity
// buffer the tracker wants, so no conversion work is needed.
type yPlaneConverter struct {
	format PixelFormat
	view   GrayFrame
}

func (c *yPlaneConverter) Format() PixelFormat { return c.format }

func (c *yPlaneConverter) Convert(src *HostFrame) (*GrayFrame, error) {
	wantPlanes := 2 // NV12: Y + interleaved UV
	if c.format == FormatI420 {
		wantPlanes = 3
	}
	if err := validateHostFrame(src, wantPlanes); err != nil {
		return nil, err
	}
	if src.Format != c.format {
		return nil, fmt.Errorf("%w: converter bound to %s got %s", ErrConfiguration, c.format, src.Format)
	}
	c.view = GrayFrame{
		Pix:    src.Planes[0],
		Width:  src.Width,
		Height: src.Height,
		Stride: src.Strides[0],
	}
	return &c.view, nil
}

// packedLumaConverter converts packed 32-bit colour to luma using the
// BT.601 integer weights (77R + 150G + 29B >> 8). The destination buffer
// is owned by the converter and reused across frames.
type packedLumaConverter struct {
	format PixelFormat
	dst    *GrayFrame
}

func (c *packedLumaConverter) Format() PixelFormat { return c.format }

func (c *packedLumaConverter) Convert(src *HostFrame) (*GrayFrame, error) {
	if err := validateHostFrame(src, 1); err != nil {
		return nil, err
	}
	if c.dst == nil || c.dst.Width != src.Width || c.dst.Height != src.Height {
		c.dst = NewGrayFrame(src.Width, src.Height)
	}
	rOff, bOff := 0, 2
	if c.format == FormatBGRA {
		rOff, bOff = 2, 0
	}
	plane := src.Planes[0]
	stride := src.Strides[0]
	for y := 0; y < src.Height; y++ {
		row := plane[y*stride:]
		out := c.dst.Pix[y*c.dst.Stride:]
		for x := 0; x < src.Width; x++ {
			p := x * 4
			r := int(row[p+rOff])
			g := int(row[p+1])
			b := int(row[p+bOff])
			out[x] = uint8((77*r + 150*g + 29*b) >> 8)
		}
	}
	return c.dst, nil
}

// GrayFromImage converts any image.Image into a packed GrayFrame. Intended
// for tests and offline tools, not the per-frame hot path.
func GrayFromImage(img image.Image) *GrayFrame {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(g, g.Bounds(), img, b.Min, xdraw.Src)
	return &GrayFrame{Pix: g.Pix, Width: b.Dx(), Height: b.Dy(), Stride: g.Stride}
}

// GrayFromImageScaled converts and resamples an image to the given size
// using bilinear interpolation. Useful for running analysis at a reduced
// resolution while warping the full-resolution frame externally.
func GrayFromImageScaled(img image.Image, width, height int) *GrayFrame {
	g := image.NewGray(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(g, g.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return &GrayFrame{Pix: g.Pix, Width: width, Height: height, Stride: g.Stride}
}

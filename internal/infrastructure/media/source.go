package media

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"lancast/internal/core/domain"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"
)

var ErrNoDisplay = errors.New("no active display")

// FrameSource produces still images of a fixed-size surface. Capture rects are
// relative to the surface origin.
type FrameSource interface {
	Bounds() image.Rectangle
	Capture(rect image.Rectangle) (image.Image, error)
}

// DisplaySource grabs pixels from one attached display.
type DisplaySource struct {
	index int
}

func NewDisplaySource(index int) (*DisplaySource, error) {
	if n := screenshot.NumActiveDisplays(); index >= n {
		return nil, fmt.Errorf("%w: display %d of %d", ErrNoDisplay, index, n)
	}
	return &DisplaySource{index: index}, nil
}

func (d *DisplaySource) Bounds() image.Rectangle {
	b := screenshot.GetDisplayBounds(d.index)
	return image.Rect(0, 0, b.Dx(), b.Dy())
}

func (d *DisplaySource) Capture(rect image.Rectangle) (image.Image, error) {
	origin := screenshot.GetDisplayBounds(d.index).Min
	img, err := screenshot.CaptureRect(rect.Add(origin))
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", d.index, err)
	}
	return img, nil
}

// ScreenSize reports the size of the given display, or a zero size when no
// display is attached.
func ScreenSize(index int) domain.ScreenSize {
	if index >= screenshot.NumActiveDisplays() {
		return domain.ScreenSize{}
	}
	b := screenshot.GetDisplayBounds(index)
	return domain.ScreenSize{Width: b.Dx(), Height: b.Dy()}
}

// BlankSource is a plain white surface shown in place of the screen.
type BlankSource struct {
	bounds image.Rectangle

	mu    sync.Mutex
	cache map[image.Point]*image.RGBA
}

func NewBlankSource(bounds image.Rectangle) *BlankSource {
	return &BlankSource{
		bounds: image.Rect(0, 0, bounds.Dx(), bounds.Dy()),
		cache:  make(map[image.Point]*image.RGBA),
	}
}

func (b *BlankSource) Bounds() image.Rectangle { return b.bounds }

func (b *BlankSource) Capture(rect image.Rectangle) (image.Image, error) {
	size := rect.Size()

	b.mu.Lock()
	defer b.mu.Unlock()
	if img, ok := b.cache[size]; ok {
		return img, nil
	}
	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	b.cache[size] = img
	return img, nil
}

// captureRect converts an optional region to a rectangle inside bounds.
func captureRect(bounds image.Rectangle, region *domain.CaptureRegion) image.Rectangle {
	if region == nil {
		return bounds
	}
	r := image.Rect(region.StartX, region.StartY, region.EndX, region.EndY)
	r = r.Intersect(bounds)
	if r.Empty() {
		return bounds
	}
	return r
}

// scaleToWidth downsizes img to width keeping its aspect ratio. Images that
// are already narrow enough are returned as is.
func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || b.Dx() <= width {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

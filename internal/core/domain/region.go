package domain

import "fmt"

// CaptureRegion is a sub-rectangle of the source screen in pixels. A nil
// *CaptureRegion means the full screen.
type CaptureRegion struct {
	StartX int `json:"start_x"`
	StartY int `json:"start_y"`
	EndX   int `json:"end_x"`
	EndY   int `json:"end_y"`
}

type ScreenSize struct {
	Width  int
	Height int
}

func (r CaptureRegion) Width() int  { return r.EndX - r.StartX }
func (r CaptureRegion) Height() int { return r.EndY - r.StartY }

// Validate checks the region against the screen bounds. A zero ScreenSize
// skips the upper-bound check.
func (r CaptureRegion) Validate(screen ScreenSize) error {
	if r.StartX < 0 || r.StartY < 0 {
		return fmt.Errorf("%w: negative origin (%d,%d)", ErrInvalidRegion, r.StartX, r.StartY)
	}
	if r.StartX >= r.EndX || r.StartY >= r.EndY {
		return fmt.Errorf("%w: empty rectangle %v", ErrInvalidRegion, r)
	}
	if screen.Width > 0 && r.EndX > screen.Width {
		return fmt.Errorf("%w: end_x %d exceeds screen width %d", ErrInvalidRegion, r.EndX, screen.Width)
	}
	if screen.Height > 0 && r.EndY > screen.Height {
		return fmt.Errorf("%w: end_y %d exceeds screen height %d", ErrInvalidRegion, r.EndY, screen.Height)
	}
	return nil
}

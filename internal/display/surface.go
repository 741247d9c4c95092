// Package display renders captured frames on a native window or a browser
// page.
package display

import (
	"errors"
	"image"
)

// ErrClosed is returned by Show once the surface has been closed.
var ErrClosed = errors.New("display: surface closed")

// Surface shows frames. The surface owns the image it was last given until
// the next Show replaces it.
type Surface interface {
	Show(img image.Image) error

	// Closed is closed when the user dismissed the surface or it was shut
	// down. The capture loop polls it once per cycle.
	Closed() <-chan struct{}
}

// Size is a target area for rescaling.
type Size struct {
	Width  int
	Height int
}

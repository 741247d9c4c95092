// Package native shows frames in an ebiten desktop window.
package native

import (
	"context"
	"image"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/sekia-ai/kodiview/internal/display"
)

// Config holds window settings.
type Config struct {
	Width  int
	Height int
	Title  string
}

// Window is an ebiten window showing the latest frame, centred and rescaled
// to the current window size.
type Window struct {
	cfg Config

	mu      sync.Mutex
	pending image.Image // set by Show, consumed by Update
	source  image.Image
	frame   *ebiten.Image
	scaled  display.Size // window size frame was scaled for
	outside display.Size

	ctx       context.Context
	closed    chan struct{}
	closeOnce sync.Once
}

var _ display.Surface = (*Window)(nil)

// NewWindow creates a window. Nothing is opened until Run.
func NewWindow(cfg Config) *Window {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 360
	}
	return &Window{
		cfg:     cfg,
		outside: display.Size{Width: cfg.Width, Height: cfg.Height},
		closed:  make(chan struct{}),
	}
}

// Show queues img for display on the next frame.
func (w *Window) Show(img image.Image) error {
	select {
	case <-w.closed:
		return display.ErrClosed
	default:
	}
	w.mu.Lock()
	w.pending = img
	w.mu.Unlock()
	return nil
}

// Closed is closed when the window is closed or Run returns.
func (w *Window) Closed() <-chan struct{} { return w.closed }

// Run opens the window and blocks until the user closes it or ctx is done.
// It must be called from the main goroutine.
func (w *Window) Run(ctx context.Context) error {
	defer w.closeOnce.Do(func() { close(w.closed) })

	w.ctx = ctx
	ebiten.SetWindowSize(w.cfg.Width, w.cfg.Height)
	ebiten.SetWindowTitle(w.cfg.Title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	return ebiten.RunGame(w)
}

// Update implements ebiten.Game.
func (w *Window) Update() error {
	if w.ctx != nil && w.ctx.Err() != nil {
		return ebiten.Termination
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.source = w.pending
		w.pending = nil
		w.rescale()
	} else if w.source != nil && w.scaled != w.outside {
		w.rescale()
	}
	return nil
}

// rescale converts the source to an ebiten image fitted to the window.
// Caller holds mu.
func (w *Window) rescale() {
	fitted := display.Fit(w.source, w.outside.Width, w.outside.Height)
	if w.frame != nil {
		w.frame.Deallocate()
	}
	w.frame = ebiten.NewImageFromImage(fitted)
	w.scaled = w.outside
}

// Draw implements ebiten.Game.
func (w *Window) Draw(screen *ebiten.Image) {
	w.mu.Lock()
	frame := w.frame
	w.mu.Unlock()
	if frame == nil {
		return
	}

	sb, fb := screen.Bounds(), frame.Bounds()
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(float64(sb.Dx()-fb.Dx())/2, float64(sb.Dy()-fb.Dy())/2)
	screen.DrawImage(frame, op)
}

// Layout implements ebiten.Game. The logical screen follows the window size.
func (w *Window) Layout(outsideWidth, outsideHeight int) (int, int) {
	outsideWidth = max(outsideWidth, 1)
	outsideHeight = max(outsideHeight, 1)

	w.mu.Lock()
	w.outside = display.Size{Width: outsideWidth, Height: outsideHeight}
	w.mu.Unlock()
	return outsideWidth, outsideHeight
}

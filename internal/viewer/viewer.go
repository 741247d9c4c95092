// Package viewer runs the screenshot capture loop: ask Kodi for a
// screenshot, wait, download it and hand it to a display surface.
package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"strconv"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/kodiview/internal/display"
	"github.com/sekia-ai/kodiview/internal/kodi"
	"github.com/sekia-ai/kodiview/internal/resilience"
)

// ErrStale is returned by Capture when no usable frame was obtained but the
// loop may carry on with the previous one.
var ErrStale = errors.New("viewer: no fresh frame")

// Kodi is the subset of *kodi.Client the loop needs.
type Kodi interface {
	TakeScreenshot(path string) error
	FetchVFS(ctx context.Context, path string) ([]byte, error)
	VFSURL(path string) string
}

// Settings are the loop parameters that can be replaced while running.
type Settings struct {
	Interval time.Duration
	Attempts int
	Backoff  time.Duration
}

// Validate checks the settings. A zero interval polls back to back.
func (s Settings) Validate() error {
	if s.Interval < 0 {
		return fmt.Errorf("poll.interval must not be negative, got %s", s.Interval)
	}
	if s.Attempts < 1 {
		return fmt.Errorf("fetch.attempts must be at least 1, got %d", s.Attempts)
	}
	if s.Backoff < 0 {
		return fmt.Errorf("fetch.backoff must not be negative, got %s", s.Backoff)
	}
	return nil
}

// Shot is one downloaded and decoded screenshot.
type Shot struct {
	Path   string
	URL    string
	Data   []byte
	Format string
	Image  image.Image
}

// Capturer performs single capture cycles without any display.
type Capturer struct {
	kodi   Kodi
	logger zerolog.Logger

	mu       sync.RWMutex
	settings Settings
}

// NewCapturer creates a Capturer.
func NewCapturer(k Kodi, s Settings, logger zerolog.Logger) *Capturer {
	return &Capturer{
		kodi:     k,
		settings: s,
		logger:   logger.With().Str("component", "capture").Logger(),
	}
}

// Settings returns the current settings.
func (c *Capturer) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// SetSettings replaces the settings; the next cycle picks them up.
func (c *Capturer) SetSettings(s Settings) {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	c.logger.Info().
		Dur("interval", s.Interval).
		Int("attempts", s.Attempts).
		Dur("backoff", s.Backoff).
		Msg("settings updated")
}

// Capture asks Kodi to write a screenshot to path, waits the poll interval
// and downloads it. Truncated downloads are retried; when they persist, or
// the data does not decode, the error wraps ErrStale. Other errors are
// returned as is.
func (c *Capturer) Capture(ctx context.Context, path string) (*Shot, error) {
	s := c.Settings()

	if err := c.kodi.TakeScreenshot(path); err != nil {
		return nil, fmt.Errorf("take screenshot: %w", err)
	}

	t := time.NewTimer(s.Interval)
	select {
	case <-ctx.Done():
		t.Stop()
		return nil, ctx.Err()
	case <-t.C:
	}

	var data []byte
	err := resilience.Retry(ctx, resilience.RetryConfig{
		Attempts: s.Attempts,
		Backoff:  s.Backoff,
		IsRetryable: func(err error) bool {
			return errors.Is(err, kodi.ErrIncompleteRead)
		},
		OnRetry: func(attempt int, err error) {
			c.logger.Warn().Err(err).Int("attempt", attempt).Str("path", path).
				Msgf("incomplete read, consider raising KODI_REFRESH_INTERVAL (currently %s)", seconds(s.Interval))
		},
	}, func() error {
		var err error
		data, err = c.kodi.FetchVFS(ctx, path)
		return err
	})
	if errors.Is(err, kodi.ErrIncompleteRead) {
		return nil, fmt.Errorf("%w: %w", ErrStale, err)
	}
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrStale, path, err)
	}
	return &Shot{
		Path:   path,
		URL:    c.kodi.VFSURL(path),
		Data:   data,
		Format: format,
		Image:  img,
	}, nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'g', -1, 64)
}

// Frame describes a captured frame for observers.
type Frame struct {
	Seq        uint64
	Index      int
	Path       string
	URL        string
	Bytes      int
	Width      int
	Height     int
	Changed    bool
	Distance   int // pHash distance to the last shown frame, -1 for the first
	CapturedAt time.Time
}

// Options configures a Viewer.
type Options struct {
	Kodi     Kodi
	Surface  display.Surface
	Rotation *Rotation
	Settings Settings

	// UnchangedDistance suppresses frames whose perceptual hash is within
	// this distance of the last shown frame. Negative shows every frame.
	UnchangedDistance int

	// Observer, if set, is called after every captured frame.
	Observer func(Frame)

	Logger zerolog.Logger
}

// Viewer is the sequential capture loop.
type Viewer struct {
	capturer  *Capturer
	surface   display.Surface
	rotation  *Rotation
	threshold int
	observer  func(Frame)
	logger    zerolog.Logger

	seq      uint64
	lastHash *goimagehash.ImageHash
}

// New creates a Viewer.
func New(opts Options) *Viewer {
	rot := opts.Rotation
	if rot == nil {
		rot = NewRotation("", "image"+IndexPlaceholder+".png", 1)
	}
	return &Viewer{
		capturer:  NewCapturer(opts.Kodi, opts.Settings, opts.Logger),
		surface:   opts.Surface,
		rotation:  rot,
		threshold: opts.UnchangedDistance,
		observer:  opts.Observer,
		logger:    opts.Logger.With().Str("component", "viewer").Logger(),
	}
}

// Capturer returns the loop's capturer, shared with tools that take
// screenshots on demand.
func (v *Viewer) Capturer() *Capturer { return v.capturer }

// Run loops until ctx is cancelled or the surface is closed, both of which
// return nil. Any error other than a stale frame ends the loop.
func (v *Viewer) Run(ctx context.Context) error {
	v.logger.Info().Int("rotation", v.rotation.Size()).Msg("capture loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-v.surface.Closed():
			v.logger.Info().Msg("display closed, stopping")
			return nil
		default:
		}

		if err := v.cycle(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, display.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func (v *Viewer) cycle(ctx context.Context) error {
	idx, path := v.rotation.Next()

	shot, err := v.capturer.Capture(ctx, path)
	if errors.Is(err, ErrStale) {
		v.logger.Warn().Err(err).Msg("keeping previous frame")
		return nil
	}
	if err != nil {
		return err
	}

	b := shot.Image.Bounds()
	v.seq++
	frame := Frame{
		Seq:        v.seq,
		Index:      idx,
		Path:       shot.Path,
		URL:        shot.URL,
		Bytes:      len(shot.Data),
		Width:      b.Dx(),
		Height:     b.Dy(),
		Changed:    true,
		Distance:   -1,
		CapturedAt: time.Now(),
	}

	hash, err := goimagehash.PerceptionHash(shot.Image)
	if err != nil {
		v.logger.Debug().Err(err).Msg("perceptual hash failed")
	} else if v.lastHash != nil {
		if dist, err := v.lastHash.Distance(hash); err == nil {
			frame.Distance = dist
			frame.Changed = dist > v.threshold
		}
	}

	if frame.Changed {
		if err := v.surface.Show(shot.Image); err != nil {
			return fmt.Errorf("show frame: %w", err)
		}
		if hash != nil {
			v.lastHash = hash
		}
	} else {
		v.logger.Debug().Int("distance", frame.Distance).Msg("frame unchanged")
	}

	v.logger.Debug().
		Uint64("seq", frame.Seq).
		Str("path", frame.Path).
		Int("bytes", frame.Bytes).
		Bool("changed", frame.Changed).
		Msg("frame captured")

	if v.observer != nil {
		v.observer(frame)
	}
	return nil
}

package broker

import "github.com/rs/zerolog"

// logAdapter routes nats-server logs through zerolog.
type logAdapter struct {
	logger zerolog.Logger
}

func (l logAdapter) Noticef(format string, v ...any) { l.logger.Debug().Msgf(format, v...) }
func (l logAdapter) Warnf(format string, v ...any)   { l.logger.Warn().Msgf(format, v...) }
func (l logAdapter) Errorf(format string, v ...any)  { l.logger.Error().Msgf(format, v...) }
func (l logAdapter) Debugf(format string, v ...any)  { l.logger.Debug().Msgf(format, v...) }
func (l logAdapter) Tracef(format string, v ...any)  { l.logger.Trace().Msgf(format, v...) }

// Fatalf is logged as an error; the broker must never exit the viewer.
func (l logAdapter) Fatalf(format string, v ...any) { l.logger.Error().Msgf(format, v...) }

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sekia-ai/kodiview/internal/display"
	"github.com/sekia-ai/kodiview/internal/display/native"
	"github.com/sekia-ai/kodiview/internal/kodi"
	"github.com/sekia-ai/kodiview/internal/viewer"
	"github.com/sekia-ai/kodiview/pkg/eventserver"
)

func newViewCmd() *cobra.Command {
	var (
		mode  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "kodiview <host> <http-port> [screenshot-dir]",
		Short: "Live view of a Kodi screen",
		Long: `Repeatedly asks Kodi to take a screenshot through its event server,
downloads it over HTTP and shows it in a window or a browser page.

The refresh interval is read from KODI_REFRESH_INTERVAL (seconds, default 0.3)
or poll.interval in the config file.`,
		Args:         cobra.RangeArgs(2, 3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := viewer.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.ApplyArgs(args); err != nil {
				return err
			}
			if len(cfg.Sealed) > 0 {
				logger.Debug().Strs("keys", cfg.Sealed).Msg("decrypted config values")
			}
			if mode != "" {
				cfg.Display.Mode = mode
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			client, err := newKodiClient(cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			b, err := startBus(cfg, client, logger)
			if err != nil {
				return fmt.Errorf("bus: %w", err)
			}
			defer b.Close()

			opts := viewer.Options{
				Kodi:              client,
				Rotation:          viewer.NewRotation(cfg.Screenshot.Dir, cfg.Screenshot.Filename, cfg.Screenshot.Rotation),
				Settings:          cfg.Settings(),
				UnchangedDistance: cfg.Display.UnchangedDistance,
				Observer:          b.Observe,
				Logger:            logger,
			}

			if cfg.Display.Mode == viewer.DisplayWeb {
				return runWeb(ctx, cfg, opts, watch, logger)
			}
			return runWindow(ctx, cancel, cfg, opts, watch, logger)
		},
	}

	cmd.Flags().StringVar(&mode, "display", "", "display surface: window or web (default from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "apply interval and retry changes from the config file while running")
	return cmd
}

func newKodiClient(cfg viewer.Config, logger zerolog.Logger) (*kodi.Client, error) {
	client, err := kodi.NewClient(kodi.Config{
		Host:      cfg.Kodi.Host,
		HTTPPort:  cfg.Kodi.HTTPPort,
		EventPort: cfg.Kodi.EventPort,
		Username:  cfg.Kodi.Username,
		Password:  cfg.Kodi.Password,
		Timeout:   cfg.Fetch.Timeout,
	}, eventserver.NewClientID(time.Now()), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to kodi: %w", err)
	}
	return client, nil
}

// runWindow runs the capture loop in the background and the window on the
// calling goroutine, which ebiten requires to be the main one.
func runWindow(ctx context.Context, cancel context.CancelFunc, cfg viewer.Config, opts viewer.Options, watch bool, logger zerolog.Logger) error {
	win := native.NewWindow(native.Config{
		Width:  cfg.Display.Width,
		Height: cfg.Display.Height,
		Title:  cfg.Display.Title,
	})
	opts.Surface = win
	v := viewer.New(opts)
	watchConfig(ctx, cfg, v, watch, logger)

	errc := make(chan error, 1)
	go func() {
		errc <- v.Run(ctx)
		cancel()
	}()

	if err := win.Run(ctx); err != nil {
		cancel()
		<-errc
		return fmt.Errorf("window: %w", err)
	}
	return <-errc
}

func runWeb(ctx context.Context, cfg viewer.Config, opts viewer.Options, watch bool, logger zerolog.Logger) error {
	web := display.NewWeb(display.WebConfig{
		Listen:   cfg.Web.Listen,
		Username: cfg.Web.Username,
		Password: cfg.Web.Password,
		Title:    cfg.Display.Title,
		Width:    cfg.Display.Width,
		Height:   cfg.Display.Height,
	}, logger)
	opts.Surface = web
	v := viewer.New(opts)
	watchConfig(ctx, cfg, v, watch, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		err := web.Start()
		if err != nil {
			cancel()
		}
		serveErr <- err
	}()

	runErr := v.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := web.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("web shutdown")
	}

	if err := <-serveErr; err != nil {
		return fmt.Errorf("web display: %w", err)
	}
	return runErr
}

func watchConfig(ctx context.Context, cfg viewer.Config, v *viewer.Viewer, watch bool, logger zerolog.Logger) {
	if !watch {
		return
	}
	err := viewer.Watch(ctx, cfg.File, logger, func(next viewer.Config) {
		s := next.Settings()
		if err := s.Validate(); err != nil {
			logger.Warn().Err(err).Msg("ignoring reloaded config")
			return
		}
		v.Capturer().SetSettings(s)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("config hot reload disabled")
	}
}

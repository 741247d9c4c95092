package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/kodiview/internal/kodi"
	"github.com/sekia-ai/kodiview/internal/mcp"
	"github.com/sekia-ai/kodiview/internal/viewer"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp <host> <http-port> [screenshot-dir]",
		Short: "Serve Kodi control and screenshots to AI assistants over MCP stdio",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := viewer.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.ApplyArgs(args); err != nil {
				return err
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

			// Tool calls may be minutes apart.
			go client.KeepAlive(ctx, kodi.KeepAliveInterval)

			s := mcp.New(mcp.Config{
				Sender:   client,
				Capturer: viewer.NewCapturer(client, cfg.Settings(), logger),
				Rotation: viewer.NewRotation(cfg.Screenshot.Dir, cfg.Screenshot.Filename, cfg.Screenshot.Rotation),
				Version:  Version,
			}, logger)
			return s.Run(ctx)
		},
	}
}

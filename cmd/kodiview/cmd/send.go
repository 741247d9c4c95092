package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/kodiview/internal/viewer"
)

func newSendCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "send <host> <action> [args...]",
		Short: "Send one built-in action to Kodi",
		Long: `Sends a single action packet to the Kodi event server, e.g.

  kodiview send kodi.local ActivateWindow Home
  kodiview send kodi.local Notification "Hello" "It works"

Arguments are quoted and escaped. Kodi does not acknowledge the packet.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := viewer.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.Kodi.Host = args[0]
			if cmd.Flags().Changed("port") {
				cfg.Kodi.EventPort = port
			}

			client, err := newKodiClient(cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.SendAction(args[1], args[2:]...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s:%d\n", args[1], cfg.Kodi.Host, cfg.Kodi.EventPort)
			return nil
		},
	}

	// Action arguments may start with "-".
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().IntVarP(&port, "port", "p", 9777, "event server UDP port (default from config)")
	return cmd
}

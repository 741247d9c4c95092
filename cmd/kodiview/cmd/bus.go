package cmd

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/kodiview/internal/broker"
	"github.com/sekia-ai/kodiview/internal/mcp"
	"github.com/sekia-ai/kodiview/internal/viewer"
	"github.com/sekia-ai/kodiview/pkg/agent"
	"github.com/sekia-ai/kodiview/pkg/protocol"
)

const (
	agentName    = "kodiview"
	eventSource  = "kodi"
	capabilities = "screenshots"
)

// bus is the optional NATS side of the viewer. A nil *bus is valid and does
// nothing.
type bus struct {
	broker *broker.Broker
	agent  *agent.Agent
	logger zerolog.Logger
}

// startBus joins the configured bus, or returns nil when none is configured.
func startBus(cfg viewer.Config, sender mcp.ActionSender, logger zerolog.Logger) (*bus, error) {
	if !cfg.NATS.Enabled() {
		return nil, nil
	}
	b := &bus{logger: logger}

	acfg := agent.Config{
		NATSUrl:       cfg.NATS.URL,
		CommandSecret: cfg.Security.CommandSecret,
	}
	if cfg.NATS.Embedded {
		br, err := broker.Start(broker.Config{Listen: cfg.NATS.Listen, Token: cfg.NATS.Token}, logger)
		if err != nil {
			return nil, err
		}
		b.broker = br
		acfg.NATSUrl = br.ClientURL()
		acfg.NATSOpts = br.ConnectOptions()
	} else if cfg.NATS.Token != "" {
		acfg.NATSOpts = append(acfg.NATSOpts, nats.Token(cfg.NATS.Token))
	}

	a, err := agent.New(acfg, agentName, Version, []string{capabilities}, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.agent = a

	a.Handle(protocol.CommandSendAction, func(_ context.Context, payload map[string]any) error {
		action, args, err := protocol.SendActionArgs(payload)
		if err != nil {
			return err
		}
		return sender.SendAction(action, args...)
	})
	if err := a.Start(); err != nil {
		b.Close()
		return nil, fmt.Errorf("start agent: %w", err)
	}
	return b, nil
}

// Observe publishes a captured frame as an event.
func (b *bus) Observe(f viewer.Frame) {
	if b == nil {
		return
	}
	ev := protocol.NewEvent(protocol.EventScreenshotCaptured, eventSource, protocol.ScreenshotCaptured{
		Seq:      f.Seq,
		Path:     f.Path,
		URL:      f.URL,
		Bytes:    f.Bytes,
		Width:    f.Width,
		Height:   f.Height,
		Changed:  f.Changed,
		Distance: f.Distance,
	}.Payload())
	if err := b.agent.Publish(ev); err != nil {
		b.logger.Warn().Err(err).Msg("publish frame event")
	}
}

// Close leaves the bus and stops the embedded broker, if any.
func (b *bus) Close() {
	if b == nil {
		return
	}
	if b.agent != nil {
		b.agent.Close()
	}
	if b.broker != nil {
		b.broker.Shutdown()
	}
}

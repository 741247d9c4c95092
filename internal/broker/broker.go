// Package broker runs an embedded NATS server so the viewer can publish
// frame events and accept commands without an external broker.
package broker

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config holds embedded broker settings.
type Config struct {
	// Listen is host:port for external clients. Empty keeps the broker
	// in-process only.
	Listen string
	Token  string // If non-empty, clients must present it.
}

// Broker is a running embedded NATS server.
type Broker struct {
	ns     *server.Server
	token  string
	logger zerolog.Logger
}

// Start creates the server and waits until it accepts connections.
func Start(cfg Config, logger zerolog.Logger) (*Broker, error) {
	opts := &server.Options{
		DontListen: cfg.Listen == "",
		NoLog:      true,
		NoSigs:     true,
	}
	if cfg.Listen != "" {
		host, port, err := net.SplitHostPort(cfg.Listen)
		if err != nil {
			return nil, fmt.Errorf("broker listen %q: %w", cfg.Listen, err)
		}
		opts.Host = host
		if opts.Port, err = strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("broker listen %q: bad port", cfg.Listen)
		}
		if opts.Port == 0 {
			opts.Port = server.RANDOM_PORT
		}
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("broker create: %w", err)
	}

	logger = logger.With().Str("component", "broker").Logger()
	ns.SetLoggerV2(logAdapter{logger: logger}, false, false, false)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("broker not ready after 10s")
	}

	b := &Broker{ns: ns, token: cfg.Token, logger: logger}
	if cfg.Listen != "" {
		logger.Info().Str("client_url", ns.ClientURL()).Msg("embedded broker listening")
	} else {
		logger.Info().Msg("embedded broker started in-process")
	}
	return b, nil
}

// ClientURL returns the URL clients connect to.
func (b *Broker) ClientURL() string { return b.ns.ClientURL() }

// ConnectOptions returns the options a client in this process needs.
func (b *Broker) ConnectOptions() []nats.Option {
	opts := []nats.Option{nats.InProcessServer(b.ns)}
	if b.token != "" {
		opts = append(opts, nats.Token(b.token))
	}
	return opts
}

// Shutdown stops the server and waits for it to exit.
func (b *Broker) Shutdown() {
	b.logger.Info().Msg("stopping embedded broker")
	b.ns.Shutdown()
	b.ns.WaitForShutdown()
}

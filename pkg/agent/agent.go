// Package agent connects kodiview to a NATS bus: it registers, heartbeats,
// publishes events and dispatches signed commands to handlers.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/kodiview/pkg/protocol"
)

// HeartbeatInterval is how often a Heartbeat is published.
const HeartbeatInterval = 30 * time.Second

// Config holds connection options for an agent.
type Config struct {
	NATSUrl  string
	NATSOpts []nats.Option

	// CommandSecret, if set, rejects commands without a valid HMAC.
	CommandSecret string
}

// CommandHandler executes one command payload.
type CommandHandler func(ctx context.Context, payload map[string]any) error

// Agent is one named participant on the bus.
type Agent struct {
	Name         string
	Version      string
	Capabilities []string

	nc        *nats.Conn
	secret    string
	logger    zerolog.Logger
	startedAt time.Time

	mu       sync.Mutex
	handlers map[string]CommandHandler
	sub      *nats.Subscription
	cancel   context.CancelFunc

	events    atomic.Int64
	commands  atomic.Int64
	errors    atomic.Int64
	lastEvent atomic.Value // time.Time
}

// New connects to NATS. Register handlers with Handle, then call Start.
func New(cfg Config, name, version string, capabilities []string, logger zerolog.Logger) (*Agent, error) {
	agentLogger := logger.With().Str("agent", name).Logger()

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				agentLogger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			agentLogger.Info().Msg("NATS reconnected")
		}),
	}
	opts = append(opts, cfg.NATSOpts...)

	nc, err := nats.Connect(cfg.NATSUrl, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.NATSUrl, err)
	}

	a := &Agent{
		Name:         name,
		Version:      version,
		Capabilities: capabilities,
		nc:           nc,
		secret:       cfg.CommandSecret,
		logger:       agentLogger,
		startedAt:    time.Now(),
		handlers:     make(map[string]CommandHandler),
	}
	a.lastEvent.Store(time.Time{})
	return a, nil
}

// Handle registers h for command. Must be called before Start.
func (a *Agent) Handle(command string, h CommandHandler) {
	a.mu.Lock()
	a.handlers[command] = h
	a.mu.Unlock()
}

// Start subscribes to commands, publishes the registration and starts the
// heartbeat.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub != nil {
		return fmt.Errorf("agent %s already started", a.Name)
	}

	sub, err := a.nc.Subscribe(protocol.SubjectCommands(a.Name), a.onCommand)
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	a.sub = sub

	commands := make([]string, 0, len(a.handlers))
	for name := range a.handlers {
		commands = append(commands, name)
	}
	sort.Strings(commands)

	data, err := json.Marshal(protocol.Registration{
		Name:         a.Name,
		Version:      a.Version,
		Capabilities: a.Capabilities,
		Commands:     commands,
	})
	if err != nil {
		return err
	}
	if err := a.nc.Publish(protocol.SubjectRegistry, data); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.heartbeatLoop(ctx)

	a.logger.Info().Strs("commands", commands).Msg("agent registered")
	return nil
}

// Publish sends ev on its source's event subject.
func (a *Agent) Publish(ev protocol.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := a.nc.Publish(protocol.SubjectEvents(ev.Source), data); err != nil {
		a.errors.Add(1)
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	a.events.Add(1)
	a.lastEvent.Store(time.Now())
	return nil
}

func (a *Agent) onCommand(msg *nats.Msg) {
	var cmd protocol.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		a.errors.Add(1)
		a.logger.Warn().Err(err).Msg("malformed command")
		return
	}
	log := a.logger.With().Str("command", cmd.Command).Str("source", cmd.Source).Logger()

	if !protocol.VerifyCommand(&cmd, a.secret) {
		a.errors.Add(1)
		log.Warn().Msg("command rejected: invalid signature")
		return
	}

	a.mu.Lock()
	h, ok := a.handlers[cmd.Command]
	a.mu.Unlock()
	if !ok {
		a.errors.Add(1)
		log.Warn().Msg("unknown command")
		return
	}

	if err := h(context.Background(), cmd.Payload); err != nil {
		a.errors.Add(1)
		log.Error().Err(err).Msg("command failed")
		return
	}
	a.commands.Add(1)
	log.Debug().Msg("command executed")
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	a.sendHeartbeat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendHeartbeat()
		}
	}
}

func (a *Agent) sendHeartbeat() {
	data, _ := json.Marshal(a.Stats())
	if err := a.nc.Publish(protocol.SubjectHeartbeat(a.Name), data); err != nil {
		a.logger.Error().Err(err).Msg("failed to send heartbeat")
	}
}

// Stats returns the current counters as a Heartbeat.
func (a *Agent) Stats() protocol.Heartbeat {
	return protocol.Heartbeat{
		Name:      a.Name,
		Status:    "running",
		StartedAt: a.startedAt,
		LastEvent: a.lastEvent.Load().(time.Time),
		Events:    a.events.Load(),
		Commands:  a.commands.Load(),
		Errors:    a.errors.Load(),
	}
}

// Close stops heartbeating and drains the connection.
func (a *Agent) Close() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	if err := a.nc.Drain(); err != nil {
		a.nc.Close()
	}
}

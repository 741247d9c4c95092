// Package mcp exposes Kodi remote control and screenshots to AI assistants
// over the Model Context Protocol.
package mcp

import (
	"context"
	"log"
	"os"
	"sync"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/kodiview/internal/viewer"
)

// ActionSender executes Kodi built-in actions.
type ActionSender interface {
	SendAction(action string, args ...string) error
}

// Capturer takes one screenshot and downloads it.
type Capturer interface {
	Capture(ctx context.Context, path string) (*viewer.Shot, error)
}

// Config wires the server to Kodi.
type Config struct {
	Sender   ActionSender
	Capturer Capturer
	Rotation *viewer.Rotation
	Version  string
}

// Server serves MCP tools on stdio.
type Server struct {
	sender   ActionSender
	capturer Capturer
	version  string
	logger   zerolog.Logger

	mu       sync.Mutex // guards rotation
	rotation *viewer.Rotation
}

// New creates a Server. Call Run to start serving.
func New(cfg Config, logger zerolog.Logger) *Server {
	return &Server{
		sender:   cfg.Sender,
		capturer: cfg.Capturer,
		rotation: cfg.Rotation,
		version:  cfg.Version,
		logger:   logger.With().Str("component", "mcp").Logger(),
	}
}

// Run serves on stdin/stdout until stdin is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := mcpserver.NewMCPServer(
		"kodiview",
		s.version,
		mcpserver.WithRecovery(),
	)
	s.registerTools(srv)

	stdio := mcpserver.NewStdioServer(srv)
	stdio.SetErrorLogger(log.New(os.Stderr, "", log.LstdFlags))

	s.logger.Info().Msg("MCP server starting on stdio")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcplib.NewTool("send_action",
			mcplib.WithDescription("Execute a Kodi built-in action through the event server, e.g. ActivateWindow(Home), PlayerControl(Play) or Notification(title,message)"),
			mcplib.WithString("action", mcplib.Required(), mcplib.Description("Built-in action name without arguments (e.g. \"ActivateWindow\", \"Stop\")")),
			mcplib.WithArray("args", mcplib.WithStringItems(), mcplib.Description("Action arguments; each is quoted and escaped for you")),
			mcplib.WithDestructiveHintAnnotation(true),
		),
		s.handleSendAction,
	)

	srv.AddTool(
		mcplib.NewTool("take_screenshot",
			mcplib.WithDescription("Capture the current Kodi screen and return it as an image"),
			mcplib.WithNumber("index", mcplib.Description("Screenshot slot to write on the Kodi host (default: next slot in the rotation)")),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleTakeScreenshot,
	)
}

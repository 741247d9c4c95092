package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) handleSendAction(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return textError("missing required parameter: action"), nil
	}

	var args []string
	if raw, ok := req.GetArguments()["args"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return textError("args must be a list of strings"), nil
		}
		for i, v := range list {
			str, ok := v.(string)
			if !ok {
				return textError(fmt.Sprintf("args[%d] must be a string", i)), nil
			}
			args = append(args, str)
		}
	}

	if err := s.sender.SendAction(action, args...); err != nil {
		return textError("failed to send action: " + err.Error()), nil
	}
	s.logger.Info().Str("action", action).Strs("args", args).Msg("action sent")

	return textJSON(map[string]any{"status": "sent", "action": action, "args": args})
}

func (s *Server) handleTakeScreenshot(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	path, err := s.screenshotPath(req.GetArguments()["index"])
	if err != nil {
		return textError(err.Error()), nil
	}

	shot, err := s.capturer.Capture(ctx, path)
	if err != nil {
		return textError("failed to capture screenshot: " + err.Error()), nil
	}

	b := shot.Image.Bounds()
	meta, err := json.Marshal(map[string]any{
		"path":   shot.Path,
		"url":    shot.URL,
		"bytes":  len(shot.Data),
		"width":  b.Dx(),
		"height": b.Dy(),
	})
	if err != nil {
		return textError("failed to marshal response: " + err.Error()), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.NewImageContent(base64.StdEncoding.EncodeToString(shot.Data), "image/"+shot.Format),
			mcplib.TextContent{Type: "text", Text: string(meta)},
		},
	}, nil
}

func (s *Server) screenshotPath(index any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index == nil {
		_, path := s.rotation.Next()
		return path, nil
	}
	f, ok := index.(float64)
	if !ok || f != math.Trunc(f) || f < 0 || int(f) >= s.rotation.Size() {
		return "", fmt.Errorf("index must be an integer between 0 and %d", s.rotation.Size()-1)
	}
	return s.rotation.Path(int(f)), nil
}

// textResult returns a successful text result.
func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

// textError returns an error text result.
func textError(msg string) *mcplib.CallToolResult {
	res := textResult(msg)
	res.IsError = true
	return res
}

func textJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return textError("failed to marshal response: " + err.Error()), nil
	}
	return textResult(string(data)), nil
}

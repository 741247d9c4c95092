package protocol

import "fmt"

// CommandSendAction executes a Kodi built-in action. Payload keys:
// "action" (string) and optional "args" (list of strings).
const CommandSendAction = "send_action"

// Command is the envelope published on SubjectCommands.
type Command struct {
	Command   string         `json:"command"`
	Payload   map[string]any `json:"payload"`
	Source    string         `json:"source"`
	Signature string         `json:"signature,omitempty"`
}

// NewSendAction builds a send_action command.
func NewSendAction(source, action string, args ...string) Command {
	list := make([]any, len(args))
	for i, a := range args {
		list[i] = a
	}
	return Command{
		Command: CommandSendAction,
		Payload: map[string]any{"action": action, "args": list},
		Source:  source,
	}
}

// SendActionArgs extracts the action and its arguments from a send_action
// payload as decoded from JSON.
func SendActionArgs(payload map[string]any) (string, []string, error) {
	action, ok := payload["action"].(string)
	if !ok || action == "" {
		return "", nil, fmt.Errorf("send_action: missing action")
	}

	raw, present := payload["args"]
	if !present || raw == nil {
		return action, nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return "", nil, fmt.Errorf("send_action: args must be a list of strings")
	}
	args := make([]string, len(list))
	for i, v := range list {
		s, ok := v.(string)
		if !ok {
			return "", nil, fmt.Errorf("send_action: args[%d] is %T, want string", i, v)
		}
		args[i] = s
	}
	return action, args, nil
}

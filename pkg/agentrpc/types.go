// Package agentrpc implements the stream-json protocol spoken by autonomous
// coding-agent CLIs: newline-delimited JSON messages over stdin/stdout, with
// control requests flowing back for tool permissions.
package agentrpc

import "encoding/json"

// Message types on the stream.
const (
	// MessageTypeSystem is the initial system message with session info
	MessageTypeSystem = "system"
	// MessageTypeAssistant contains text or tool calls from the assistant
	MessageTypeAssistant = "assistant"
	// MessageTypeResult is the final result message
	MessageTypeResult = "result"
	// MessageTypeControlRequest is a permission or hook request
	MessageTypeControlRequest = "control_request"
	// MessageTypeControlResponse is a response to a control request
	MessageTypeControlResponse = "control_response"
	// MessageTypeUser is a user message (prompt)
	MessageTypeUser = "user"
)

// Control request subtypes.
const (
	// SubtypeCanUseTool is a permission request for tool use
	SubtypeCanUseTool = "can_use_tool"
	// SubtypeHookCallback is a hook callback request
	SubtypeHookCallback = "hook_callback"
)

// Permission behaviors.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// StreamMessage is one line of agent stdout. The type determines which
// fields are populated.
type StreamMessage struct {
	Type string `json:"type"`

	// For control_request messages
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlRequest `json:"request,omitempty"`

	// For system messages
	SessionID string `json:"session_id,omitempty"`

	// For result messages
	Result   json.RawMessage `json:"result,omitempty"`
	Subtype  string          `json:"subtype,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`
	NumTurns int             `json:"num_turns,omitempty"`

	// Raw line for logging
	RawContent json.RawMessage `json:"-"`
}

// ResultString returns the result field when it is a plain string.
func (m *StreamMessage) ResultString() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err != nil {
		return ""
	}
	return s
}

// ControlRequest is a permission or hook request from the agent.
type ControlRequest struct {
	Subtype string `json:"subtype"`

	// For can_use_tool requests
	ToolName  string         `json:"tool_name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`

	// For hook_callback requests
	CallbackID string         `json:"callback_id,omitempty"`
	HookName   string         `json:"hook_name,omitempty"`
	HookInput  map[string]any `json:"hook_input,omitempty"`
}

// ControlResponseMessage answers a control request.
type ControlResponseMessage struct {
	Type      string           `json:"type"` // "control_response"
	RequestID string           `json:"request_id"`
	Response  *ControlResponse `json:"response"`
}

// ControlResponse is the body of a control response.
type ControlResponse struct {
	Subtype string            `json:"subtype"` // success | error
	Result  *PermissionResult `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// PermissionResult decides a can_use_tool request.
type PermissionResult struct {
	// Behavior is "allow" or "deny"
	Behavior string `json:"behavior"`
	// Message provides feedback to the agent on deny
	Message string `json:"message,omitempty"`
	// Interrupt stops the agent's loop (for deny+stop)
	Interrupt *bool `json:"interrupt,omitempty"`
}

// UserMessage delivers the prompt over stdin.
type UserMessage struct {
	Type    string          `json:"type"` // "user"
	Message UserMessageBody `json:"message"`
}

// UserMessageBody is the prompt content.
type UserMessageBody struct {
	Role    string `json:"role"` // "user"
	Content string `json:"content"`
}

// Tool names the orchestrator's hooks care about.
const (
	ToolBash            = "Bash"
	ToolAskUserQuestion = "AskUserQuestion"
)

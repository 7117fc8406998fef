package client

import (
	"encoding/json"
	"strings"
)

// EventType is the "type" field of a stream-json record.
type EventType string

const (
	EventSystem     EventType = "system"
	EventAssistant  EventType = "assistant"
	EventUser       EventType = "user"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventResult     EventType = "result"
	EventError      EventType = "error"
)

// OutputEvent is one parsed record. A single record can carry several
// facts at once: an assistant message may report token usage and contain
// the story completion marker.
type OutputEvent struct {
	Type      EventType
	SubType   string
	SessionID string

	Message *MessageContent
	Tool    *ToolContent
	// Usage is set when the record reports cumulative token usage.
	Usage *UsageInfo

	Result        string
	IsErrorResult bool
	Error         *ErrorInfo
	DurationMs    int64

	// StoryComplete is set when the text contains the completion marker.
	StoryComplete bool
	// Learnings are lessons the agent asked to have recorded.
	Learnings []string

	Raw []byte
}

// IsTerminal reports whether this is the final record of an invocation.
func (e OutputEvent) IsTerminal() bool {
	return e.Type == EventResult
}

// IsFailure reports whether the record marks the invocation as failed.
func (e OutputEvent) IsFailure() bool {
	return e.Type == EventError || (e.Type == EventResult && e.IsErrorResult)
}

// Text returns assistant text or result text.
func (e OutputEvent) Text() string {
	if e.Message != nil {
		return e.Message.GetText()
	}
	return e.Result
}

// MessageContent is an assistant or user message.
type MessageContent struct {
	ID      string
	Role    string
	Model   string
	Content []ContentBlock
}

// GetText joins the text blocks of the message.
func (m *MessageContent) GetText() string {
	if m == nil {
		return ""
	}
	var parts []string
	for _, b := range m.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasToolUses reports whether the message invokes tools.
func (m *MessageContent) HasToolUses() bool {
	if m == nil {
		return false
	}
	for _, b := range m.Content {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}

// ContentBlock is one block of message content.
type ContentBlock struct {
	Type  string
	Text  string
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolContent describes a tool call or its result.
type ToolContent struct {
	ID     string
	Name   string
	Input  json.RawMessage
	Output string
	// Path is the file a read or edit tool touched.
	Path string
	// Command is the command line of a shell tool.
	Command string
	// ExitCode is set for shell tools.
	ExitCode int
}

// UsageInfo is cumulative token usage for the invocation so far.
type UsageInfo struct {
	InputTokens  int
	OutputTokens int
	CacheTokens  int
}

// Total sums every token class.
func (u UsageInfo) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheTokens
}

// ErrorInfo is a structured error reported by the agent.
type ErrorInfo struct {
	Code    string
	Message string
}

// ParsePolymorphicError decodes an error field that may be a string or an
// object with code and message.
func ParsePolymorphicError(raw json.RawMessage) *ErrorInfo {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return &ErrorInfo{Message: s}
	}
	var obj struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return &ErrorInfo{Message: string(raw)}
	}
	code := obj.Code
	if code == "" {
		code = obj.Type
	}
	return &ErrorInfo{Code: code, Message: obj.Message}
}

// EventParser turns one stdout line into an event. It returns ErrSkipEvent
// for records that carry nothing of interest.
type EventParser interface {
	ParseEvent(data []byte) (OutputEvent, error)
}

package cursor

import (
	"encoding/json"
	"strings"

	"github.com/zjrosen/ralph/internal/orchestration/client"
)

const (
	// eventThinking carries model reasoning deltas. Nothing in it is acted on.
	eventThinking = "thinking"

	// eventToolCall is cursor's tool record, with subtypes "started" and
	// "completed" and a body holding one of the tool variants.
	eventToolCall = "tool_call"
)

// Parser implements client.EventParser for cursor-agent stream-json output.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseEvent converts one stream-json line into a client.OutputEvent.
func (p *Parser) ParseEvent(data []byte) (client.OutputEvent, error) {
	var raw cursorEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return client.OutputEvent{}, err
	}

	switch raw.Type {
	case eventThinking:
		return client.OutputEvent{}, client.ErrSkipEvent
	case eventToolCall:
		if raw.ToolCall == nil {
			return client.OutputEvent{}, client.ErrSkipEvent
		}
		return p.parseToolCall(raw, data), nil
	}

	event := client.OutputEvent{
		Type:          client.EventType(raw.Type),
		SubType:       raw.SubType,
		SessionID:     raw.SessionID,
		DurationMs:    raw.DurationMs,
		IsErrorResult: raw.IsError,
		Result:        raw.Result,
		Error:         client.ParsePolymorphicError(raw.Error),
		Raw:           data,
	}

	if raw.Message != nil {
		event.Message = convertMessage(raw.Message)
		if raw.Message.Usage != nil {
			event.Usage = raw.Message.Usage.toClient()
		}
		if event.Type == client.EventAssistant &&
			strings.TrimSpace(event.Message.GetText()) == "" && !event.Message.HasToolUses() {
			return client.OutputEvent{}, client.ErrSkipEvent
		}
	}
	if raw.Usage != nil {
		event.Usage = raw.Usage.toClient()
	}

	if event.Type == client.EventError && event.Error == nil {
		event.Error = &client.ErrorInfo{Message: "agent reported an error"}
	}

	if event.Type == client.EventAssistant || event.Type == client.EventResult {
		event.StoryComplete, event.Learnings = client.ScanMarkers(event.Text())
	}

	return event, nil
}

func (p *Parser) parseToolCall(raw cursorEvent, data []byte) client.OutputEvent {
	tc := raw.ToolCall
	tool := &client.ToolContent{
		ID:    raw.CallID,
		Name:  tc.toolName(),
		Input: tc.toolInput(),
		Path:  tc.path(),
	}
	if tc.ShellToolCall != nil {
		tool.Command = tc.ShellToolCall.Args.Command
	}

	eventType := client.EventToolUse
	if raw.SubType == "completed" {
		eventType = client.EventToolResult
		tool.Output, tool.ExitCode = tc.toolOutput()
	}

	return client.OutputEvent{
		Type:      eventType,
		SubType:   raw.SubType,
		SessionID: raw.SessionID,
		Tool:      tool,
		Raw:       data,
	}
}

func convertMessage(m *cursorMessage) *client.MessageContent {
	msg := &client.MessageContent{
		ID:    m.ID,
		Role:  m.Role,
		Model: m.Model,
	}
	for _, b := range m.Content {
		msg.Content = append(msg.Content, client.ContentBlock{
			Type:  b.Type,
			Text:  b.Text,
			ID:    b.ID,
			Name:  b.Name,
			Input: b.Input,
		})
	}
	return msg
}

var _ client.EventParser = (*Parser)(nil)

package cursor

import (
	"encoding/json"

	"github.com/zjrosen/ralph/internal/orchestration/client"
)

// cursorEvent is one raw stream-json record from cursor-agent.
type cursorEvent struct {
	Type       string          `json:"type"`
	SubType    string          `json:"subtype,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Message    *cursorMessage  `json:"message,omitempty"`
	ToolCall   *cursorToolCall `json:"tool_call,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Result     string          `json:"result,omitempty"`
	Usage      *cursorUsage    `json:"usage,omitempty"`
}

type cursorMessage struct {
	ID      string               `json:"id,omitempty"`
	Role    string               `json:"role,omitempty"`
	Model   string               `json:"model,omitempty"`
	Content []cursorContentBlock `json:"content,omitempty"`
	Usage   *cursorUsage         `json:"usage,omitempty"`
}

type cursorContentBlock struct {
	Type  string          `json:"type,omitempty"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// cursorUsage accepts both snake_case and camelCase spellings; cursor has
// emitted each at different times.
type cursorUsage struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	InputTokensCamel         int `json:"inputTokens,omitempty"`  //nolint:tagliatelle // cursor camelCase
	OutputTokensCamel        int `json:"outputTokens,omitempty"` //nolint:tagliatelle // cursor camelCase
}

func (u *cursorUsage) toClient() *client.UsageInfo {
	return &client.UsageInfo{
		InputTokens:  u.InputTokens + u.InputTokensCamel,
		OutputTokens: u.OutputTokens + u.OutputTokensCamel,
		CacheTokens:  u.CacheReadInputTokens + u.CacheCreationInputTokens,
	}
}

// cursorToolCall holds exactly one populated tool variant.
type cursorToolCall struct {
	ShellToolCall *cursorShellToolCall `json:"shellToolCall,omitempty"` //nolint:tagliatelle // cursor camelCase
	EditToolCall  *cursorEditToolCall  `json:"editToolCall,omitempty"`  //nolint:tagliatelle // cursor camelCase
	ReadToolCall  *cursorReadToolCall  `json:"readToolCall,omitempty"`  //nolint:tagliatelle // cursor camelCase
	MCPToolCall   *cursorMCPToolCall   `json:"mcpToolCall,omitempty"`   //nolint:tagliatelle // cursor camelCase
}

func (tc *cursorToolCall) toolName() string {
	switch {
	case tc.ShellToolCall != nil:
		return "Bash"
	case tc.EditToolCall != nil:
		return "Edit"
	case tc.ReadToolCall != nil:
		return "Read"
	case tc.MCPToolCall != nil:
		if tc.MCPToolCall.Args.ToolName != "" {
			return tc.MCPToolCall.Args.ToolName
		}
		return tc.MCPToolCall.Args.Name
	default:
		return "unknown"
	}
}

func (tc *cursorToolCall) toolInput() json.RawMessage {
	var v any
	switch {
	case tc.ShellToolCall != nil:
		v = tc.ShellToolCall.Args
	case tc.EditToolCall != nil:
		v = tc.EditToolCall.Args
	case tc.ReadToolCall != nil:
		v = tc.ReadToolCall.Args
	case tc.MCPToolCall != nil:
		return tc.MCPToolCall.Args.Args
	default:
		return nil
	}
	data, _ := json.Marshal(v)
	return data
}

func (tc *cursorToolCall) path() string {
	switch {
	case tc.EditToolCall != nil:
		return tc.EditToolCall.Args.Path
	case tc.ReadToolCall != nil:
		return tc.ReadToolCall.Args.Path
	}
	return ""
}

// toolOutput returns the output text and, for shell calls, the exit code.
func (tc *cursorToolCall) toolOutput() (string, int) {
	switch {
	case tc.ShellToolCall != nil && tc.ShellToolCall.Result != nil:
		r := tc.ShellToolCall.Result
		if r.Success != nil {
			return r.Success.Stdout, r.Success.ExitCode
		}
		if r.Failure != nil {
			code := r.Failure.ExitCode
			if code == 0 {
				code = 1
			}
			return r.Failure.Stdout + r.Failure.Stderr, code
		}
	case tc.EditToolCall != nil && tc.EditToolCall.Result != nil:
		if s := tc.EditToolCall.Result.Success; s != nil {
			return s.Message, 0
		}
	case tc.ReadToolCall != nil && tc.ReadToolCall.Result != nil:
		r := tc.ReadToolCall.Result
		if r.Success != nil {
			return r.Success.Content, 0
		}
		if r.Error != nil {
			return r.Error.ErrorMessage, 0
		}
	case tc.MCPToolCall != nil && tc.MCPToolCall.Result != nil:
		if s := tc.MCPToolCall.Result.Success; s != nil {
			for _, c := range s.Content {
				if c.Text.Text != "" {
					return c.Text.Text, 0
				}
			}
		}
	}
	return "", 0
}

type cursorShellToolCall struct {
	Args struct {
		Command string `json:"command,omitempty"`
	} `json:"args"`
	Result *struct {
		Success *cursorShellOutcome `json:"success,omitempty"`
		Failure *cursorShellOutcome `json:"failure,omitempty"`
	} `json:"result,omitempty"`
}

type cursorShellOutcome struct {
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"` //nolint:tagliatelle // cursor camelCase
}

type cursorEditToolCall struct {
	Args struct {
		Path string `json:"path,omitempty"`
	} `json:"args"`
	Result *struct {
		Success *struct {
			Path    string `json:"path,omitempty"`
			Message string `json:"message,omitempty"`
		} `json:"success,omitempty"`
	} `json:"result,omitempty"`
}

type cursorReadToolCall struct {
	Args struct {
		Path string `json:"path,omitempty"`
	} `json:"args"`
	Result *struct {
		Success *struct {
			Content string `json:"content,omitempty"`
		} `json:"success,omitempty"`
		Error *struct {
			ErrorMessage string `json:"errorMessage,omitempty"` //nolint:tagliatelle // cursor camelCase
		} `json:"error,omitempty"`
	} `json:"result,omitempty"`
}

type cursorMCPToolCall struct {
	Args struct {
		Name     string          `json:"name,omitempty"`
		ToolName string          `json:"toolName,omitempty"` //nolint:tagliatelle // cursor camelCase
		Args     json.RawMessage `json:"args,omitempty"`
	} `json:"args"`
	Result *struct {
		Success *struct {
			Content []struct {
				Text struct {
					Text string `json:"text,omitempty"`
				} `json:"text"`
			} `json:"content,omitempty"`
		} `json:"success,omitempty"`
	} `json:"result,omitempty"`
}

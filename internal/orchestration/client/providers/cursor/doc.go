// Package cursor runs the Cursor Agent CLI headlessly for one iteration of a
// session.
//
// # Invocation
//
//	cursor-agent --print --output-format stream-json --model <model> --force "<prompt>"
//
// The process runs in the project directory, so the agent edits the working
// tree in place. Each iteration starts a fresh agent session; context is
// carried forward through prd.json, the progress log and guardrails rather
// than through --resume.
//
// # Output
//
// stdout is JSON lines. Records the session cares about:
//
//	{"type":"assistant","message":{"content":[{"type":"text","text":"..."}],"usage":{...}}}
//	{"type":"tool_call","subtype":"completed","tool_call":{"editToolCall":{...}}}
//	{"type":"result","subtype":"success","is_error":false,"result":"...","usage":{...}}
//	{"type":"error","error":{"code":"...","message":"..."}}
//
// Assistant or result text containing <ralph>COMPLETE</ralph> marks the
// current story as done.
package cursor

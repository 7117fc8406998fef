package cursor

import (
	"context"

	"github.com/zjrosen/ralph/internal/orchestration/client"
)

// Registered under "cursor" so config can select it by name.
func init() {
	client.RegisterClient(client.ClientCursor, func() client.HeadlessClient { return NewClient() })
}

// CursorClient runs cursor-agent once per iteration. Each invocation gets a
// fresh context; nothing carries over between spawns except what the prompt
// and the project files hold.
type CursorClient struct{}

func NewClient() *CursorClient { return &CursorClient{} }

func (c *CursorClient) Type() client.ClientType { return client.ClientCursor }

// Spawn starts one non-interactive cursor-agent run in cfg.WorkDir and
// streams its JSON output until the process exits.
func (c *CursorClient) Spawn(ctx context.Context, cfg client.Config) (client.HeadlessProcess, error) {
	return Spawn(ctx, configFromClient(cfg))
}

var _ client.HeadlessClient = (*CursorClient)(nil)

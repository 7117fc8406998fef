// Package client abstracts headless coding-agent CLIs. A provider spawns a
// process whose stdout is a stream of JSON records; the shared machinery
// here parses that stream, enforces timeouts and tears processes down.
package client

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ClientType identifies a provider.
type ClientType string

// ClientCursor is the Cursor Agent CLI.
const ClientCursor ClientType = "cursor"

// HeadlessClient spawns agent processes.
type HeadlessClient interface {
	Type() ClientType
	Spawn(ctx context.Context, cfg Config) (HeadlessProcess, error)
}

// HeadlessProcess is an owned handle to one running agent invocation.
type HeadlessProcess interface {
	// Events yields parsed records and is closed once stdout ends. It can
	// be consumed only once.
	Events() <-chan OutputEvent
	// Wait blocks until the process has exited and returns its outcome.
	Wait() Result
	// Cancel terminates the process: SIGTERM, then SIGKILL after the grace
	// period. Safe to call more than once.
	Cancel()
	PID() int
}

var (
	registryMu sync.RWMutex
	registry   = map[ClientType]func() HeadlessClient{}
)

// RegisterClient makes a provider available to NewClient. Providers call
// it from init.
func RegisterClient(t ClientType, factory func() HeadlessClient) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = factory
}

// NewClient returns a registered provider.
func NewClient(t ClientType) (HeadlessClient, error) {
	registryMu.RLock()
	factory, ok := registry[t]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown client type %q (registered: %v)", t, RegisteredClients())
	}
	return factory(), nil
}

// RegisteredClients lists provider names in sorted order.
func RegisteredClients() []ClientType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]ClientType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

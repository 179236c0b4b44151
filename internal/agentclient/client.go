// Package agentclient defines the collaborator interface the PipelineRunner
// uses to invoke external agents, and provides two concrete implementations.
package agentclient

import (
	"context"
	"fmt"
)

// Frame is one event emitted by an upstream agent-runner event stream.
type Frame struct {
	Event string
	Data  any
}

// ClientError is the single failure type every AgentClient operation may
// return. The Runner treats every ClientError as a recoverable step
// failure, never a fatal condition.
type ClientError struct {
	Message    string
	StatusCode int
}

func (e *ClientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("agent client error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("agent client error: %s", e.Message)
}

// Client is the abstract collaborator the PipelineRunner calls into. It is
// not implemented by the core; see HTTPClient and CLIClient.
type Client interface {
	// CreateSession starts a new agent session and returns its id.
	CreateSession(ctx context.Context, title string) (string, error)

	// SendMessage blocks until the agent completes and returns its raw
	// output text — the handoff source.
	SendMessage(ctx context.Context, sessionID, prompt, agentName string, model *string) (string, error)

	// Abort makes a best-effort attempt to interrupt an in-flight session.
	Abort(ctx context.Context, sessionID string) bool

	// DeleteSession performs best-effort session cleanup.
	DeleteSession(ctx context.Context, sessionID string)

	// StreamEvents opens the upstream event stream and invokes callback for
	// each frame until StopStreaming is called or ctx is cancelled,
	// reconnecting with reconnectDelay on transport error.
	StreamEvents(ctx context.Context, callback func(Frame), reconnectDelay int) error

	// StopStreaming terminates an active StreamEvents call.
	StopStreaming()
}

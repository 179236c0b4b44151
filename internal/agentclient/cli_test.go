package agentclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCommand_Claude(t *testing.T) {
	cmd, args, err := resolveCommand("claude", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "claude", cmd)
	assert.Equal(t, []string{"-p", "hello", "--output-format", "text", "--settings", `{"hooks":{}}`}, args)
}

func TestResolveCommand_OpenCodeWithModel(t *testing.T) {
	model := "gpt-5"
	cmd, args, err := resolveCommand("opencode-worker-1", "hello", &model)
	require.NoError(t, err)
	assert.Equal(t, "opencode", cmd)
	assert.Equal(t, []string{"run", "hello", "--model", "gpt-5"}, args)
}

func TestResolveCommand_EmptyDefaultsClaude(t *testing.T) {
	cmd, _, err := resolveCommand("", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "claude", cmd)
}

func TestResolveCommand_UnknownAgent(t *testing.T) {
	_, _, err := resolveCommand("some-agent", "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent type")
}

func TestCLIClient_SendMessage_WithMockScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "claude")
	err := os.WriteFile(script, []byte("#!/bin/sh\necho 'handoff output'\n"), 0o755)
	require.NoError(t, err)

	oldPath := os.Getenv("PATH")
	t.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)

	c := NewCLIClient()
	sessionID, err := c.CreateSession(context.Background(), "t")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := c.SendMessage(ctx, sessionID, "do the thing", "claude", nil)
	require.NoError(t, err)
	assert.Equal(t, "handoff output", out)
}

func TestCLIClient_SendMessage_UnknownAgentType(t *testing.T) {
	c := NewCLIClient()
	_, err := c.SendMessage(context.Background(), "s1", "hi", "unknown-thing", nil)
	require.Error(t, err)
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Contains(t, clientErr.Message, "unknown agent type")
}

func TestCLIClient_SendMessage_EmptyPromptRejected(t *testing.T) {
	c := NewCLIClient()
	_, err := c.SendMessage(context.Background(), "s1", "", "claude", nil)
	require.Error(t, err)
}

func TestCLIClient_Abort_UnknownSessionReturnsFalse(t *testing.T) {
	c := NewCLIClient()
	assert.False(t, c.Abort(context.Background(), "nonexistent"))
}

func TestCLIClient_StreamEvents_NoOp(t *testing.T) {
	c := NewCLIClient()
	err := c.StreamEvents(context.Background(), func(Frame) {
		t.Fatal("callback should never be invoked")
	}, 1)
	require.NoError(t, err)
	c.StopStreaming()
}

func TestCLIClient_DeleteSession_NoOp(t *testing.T) {
	c := NewCLIClient()
	c.DeleteSession(context.Background(), "whatever")
}

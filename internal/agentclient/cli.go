package agentclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const disableExternalCLIEnv = "AGENTPIPE_DISABLE_EXTERNAL_CLI"

const claudeHooklessSettingsJSON = `{"hooks":{}}`

// CLIClient is the development/offline AgentClient implementation: it shells
// out to a local agent CLI (`claude -p`, `opencode run`) instead of calling
// a network service. It has no upstream event source, so StreamEvents and
// StopStreaming are documented no-ops.
type CLIClient struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

var _ Client = (*CLIClient)(nil)

// NewCLIClient returns a CLIClient. Session ids are ephemeral uuids with no
// persisted state; each SendMessage call is an independent CLI invocation.
func NewCLIClient() *CLIClient {
	return &CLIClient{cancels: make(map[string]context.CancelFunc)}
}

func (c *CLIClient) CreateSession(ctx context.Context, title string) (string, error) {
	return uuid.NewString(), nil
}

// SendMessage shells out to the CLI matching agentName and blocks until it
// exits, returning its trimmed stdout as the handoff source text.
func (c *CLIClient) SendMessage(ctx context.Context, sessionID, prompt, agentName string, model *string) (string, error) {
	if strings.TrimSpace(os.Getenv(disableExternalCLIEnv)) != "" {
		return "", &ClientError{Message: fmt.Sprintf("external agent CLI execution disabled by %s", disableExternalCLIEnv)}
	}
	if err := validatePrompt(prompt); err != nil {
		return "", &ClientError{Message: fmt.Sprintf("invalid prompt: %v", err)}
	}

	command, args, err := resolveCommand(agentName, prompt, model)
	if err != nil {
		return "", &ClientError{Message: err.Error()}
	}
	if _, err := exec.LookPath(command); err != nil {
		return "", &ClientError{Message: fmt.Sprintf("cli tool %q not found in PATH: %v", command, err)}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels[sessionID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, sessionID)
		c.mu.Unlock()
		cancel()
	}()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Env = os.Environ()

	var stdout bytes.Buffer
	stderrW := &limitedWriter{maxBytes: 4096}
	cmd.Stdout = &stdout
	cmd.Stderr = stderrW

	if err := cmd.Run(); err != nil {
		stderrMsg := stderrW.buf.String()
		if stderrW.buf.Len() >= stderrW.maxBytes {
			stderrMsg += " (truncated)"
		}
		return "", &ClientError{Message: fmt.Sprintf("cli %s failed: %v (stderr: %s)", command, err, stderrMsg)}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Abort cancels the in-flight SendMessage call for sessionID, if any.
func (c *CLIClient) Abort(ctx context.Context, sessionID string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[sessionID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// DeleteSession is a no-op: a CLIClient session has no server-side resource.
func (c *CLIClient) DeleteSession(ctx context.Context, sessionID string) {}

// StreamEvents is a no-op: driving a local CLI produces no upstream event
// stream to subscribe to. This is a deliberate, documented limitation of
// CLIClient, not an oversight.
func (c *CLIClient) StreamEvents(ctx context.Context, callback func(Frame), reconnectDelay int) error {
	return nil
}

// StopStreaming is a no-op for the same reason as StreamEvents.
func (c *CLIClient) StopStreaming() {}

// resolveCommand maps agent name to CLI command + argv. model, when set, is
// appended as "--model <value>" for CLIs that accept it.
func resolveCommand(agentName, prompt string, model *string) (string, []string, error) {
	name := strings.ToLower(agentName)
	switch {
	case strings.HasPrefix(name, "opencode"):
		args := []string{"run", prompt}
		if model != nil {
			args = append(args, "--model", *model)
		}
		return "opencode", args, nil
	case strings.HasPrefix(name, "claude"), name == "":
		args := []string{"-p", prompt, "--output-format", "text", "--settings", claudeHooklessSettingsJSON}
		if model != nil {
			args = append(args, "--model", *model)
		}
		return "claude", args, nil
	default:
		return "", nil, fmt.Errorf("unknown agent type %q (supported: claude, opencode)", agentName)
	}
}

// validatePrompt checks for unsafe characters in prompts. Go's exec avoids
// shell injection (no shell involved), but external CLIs may themselves be
// shell scripts.
func validatePrompt(s string) error {
	if len(s) == 0 {
		return errors.New("empty prompt")
	}
	if len(s) > 16000 {
		return fmt.Errorf("prompt exceeds 16000 byte limit (%d bytes)", len(s))
	}
	if strings.ContainsRune(s, 0) {
		return errors.New("prompt contains null byte")
	}
	return nil
}

// limitedWriter caps writes at maxBytes, silently discarding overflow so a
// misbehaving CLI emitting unbounded stderr cannot exhaust memory.
type limitedWriter struct {
	buf      bytes.Buffer
	maxBytes int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	originalLen := len(p)
	remaining := w.maxBytes - w.buf.Len()
	if remaining <= 0 {
		return originalLen, nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	w.buf.Write(p)
	return originalLen, nil
}

package presence

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/adamavenir/rooms/internal/types"
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// Tmux reads presence from tmux sessions named "<agent><suffix>" and sends
// notifications as keystrokes into them.
type Tmux struct {
	Suffix  string
	Timeout time.Duration
	Run     Runner
}

// NewTmux returns a tmux binding that gives up on each call after timeout.
func NewTmux(suffix string, timeout time.Duration) *Tmux {
	return &Tmux{Suffix: suffix, Timeout: timeout, Run: execRunner}
}

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}

func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.Run(ctx, "tmux", args...)
}

// ListSessions lists sessions ending in the suffix. An attached session is
// active, a detached one idle. Any failure means nobody is present.
func (t *Tmux) ListSessions(ctx context.Context) Snapshot {
	out, err := t.run(ctx, "list-sessions", "-F", "#{session_name}:#{session_attached}")
	if err != nil {
		return Snapshot{}
	}
	return parseSessions(out, t.Suffix)
}

func parseSessions(out, suffix string) Snapshot {
	snapshot := Snapshot{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		session, attached := line, "0"
		if idx := strings.LastIndex(line, ":"); idx >= 0 {
			session, attached = line[:idx], line[idx+1:]
		}
		if !strings.HasSuffix(session, suffix) || len(session) == len(suffix) {
			continue
		}
		id := strings.ToLower(strings.TrimSuffix(session, suffix))
		status := types.PresenceIdle
		if attached != "" && attached != "0" {
			status = types.PresenceActive
		}
		snapshot[id] = types.PresenceEntry{Name: DisplayName(id), Status: status}
	}
	return snapshot
}

// HasSession reports whether the exact session exists.
func (t *Tmux) HasSession(ctx context.Context, session string) bool {
	_, err := t.run(ctx, "has-session", "-t", "="+session)
	return err == nil
}

// SendText types text into the session literally, without pressing Enter.
func (t *Tmux) SendText(ctx context.Context, session, text string) error {
	_, err := t.run(ctx, "send-keys", "-t", "="+session+":", "-l", text)
	return err
}

// Submit presses Enter in the session.
func (t *Tmux) Submit(ctx context.Context, session string) error {
	_, err := t.run(ctx, "send-keys", "-t", "="+session+":", "Enter")
	return err
}

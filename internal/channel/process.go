package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/google/uuid"
)

// ProcessDialer launches the host as a child process and talks to it over
// the child's stdin and stdout. Each Dial starts a fresh process.
type ProcessDialer struct {
	// Command is the host executable.
	Command string

	// Args are passed to Command.
	Args []string

	// Env is appended to the current environment.
	Env []string

	Options Options
}

// Compile-time check that ProcessDialer implements Dialer.
var _ Dialer = (*ProcessDialer)(nil)

// Dial starts the host. The process outlives ctx: it is stopped by closing
// the returned Channel, which closes its input and kills it only after the
// close grace period.
func (d *ProcessDialer) Dial(ctx context.Context, h Handlers) (Channel, error) {
	if d.Command == "" {
		return nil, fmt.Errorf("channel: no host command configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("channel: dial: %w", err)
	}

	cmd := exec.Command(d.Command, d.Args...)
	cmd.Env = append(os.Environ(), d.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("channel: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("channel: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("channel: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("channel: start host %q: %w", d.Command, err)
	}

	c := newConn(uuid.NewString(), stdout, stdin, h, d.Options)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		forwardStderr(c, stderr)
	}()

	// Wait must not run before all reads from the pipes have completed.
	c.exit = func() error {
		<-stderrDone
		return cmd.Wait()
	}
	c.kill = func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}

	c.log.Info().Str("command", d.Command).Int("pid", cmd.Process.Pid).Msg("Host process started")
	c.start()
	return c, nil
}

// forwardStderr relays the host's diagnostic output into our log.
func forwardStderr(c *conn, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.log.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
	// Keep draining after an oversized line so the host never blocks on stderr.
	_, _ = io.Copy(io.Discard, r)
}

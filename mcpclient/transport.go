package mcpclient

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Transport owns a bidirectional byte channel to a tool server. Send
// writes one newline-framed message; ReadLine blocks for the next
// incoming line. Stop tears the channel down and must be idempotent.
type Transport interface {
	Send(data []byte) error
	ReadLine() ([]byte, error)
	Stop() error
}

// launchGracePeriod is how long NewStdioTransport watches a freshly
// spawned process for an immediate exit before declaring it launched.
const launchGracePeriod = 100 * time.Millisecond

// StdioTransport runs a tool server as a child process and frames
// messages over its standard streams, one JSON document per line.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr bytes.Buffer
	logger *log.Logger

	writeMu  sync.Mutex
	stopOnce sync.Once

	waitCh  chan struct{} // closed when the process exits
	waitErr error
}

// NewStdioTransport spawns command with the given arguments and wires
// up its stdin/stdout pipes. It returns a *LaunchError if the command
// cannot be started or the process exits within the launch grace
// period.
func NewStdioTransport(command string, args []string, logger *log.Logger) (*StdioTransport, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()

	t := &StdioTransport{
		cmd:    cmd,
		logger: logger,
		waitCh: make(chan struct{}),
	}
	cmd.Stderr = &t.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Command: command, Cause: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &LaunchError{Command: command, Cause: fmt.Errorf("stdout pipe: %w", err)}
	}
	t.stdin = stdin
	t.stdout = bufio.NewReader(stdout)

	logger.Printf("starting tool server: %s %s", command, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, &LaunchError{Command: command, Cause: err}
	}

	go func() {
		t.waitErr = cmd.Wait()
		close(t.waitCh)
	}()

	select {
	case <-t.waitCh:
		return nil, &LaunchError{
			Command: command,
			Stderr:  strings.TrimSpace(t.stderr.String()),
			Cause:   fmt.Errorf("process exited immediately: %w", exitReason(t.waitErr)),
		}
	case <-time.After(launchGracePeriod):
	}

	logger.Printf("tool server started with PID %d", cmd.Process.Pid)
	return t, nil
}

func exitReason(waitErr error) error {
	if waitErr != nil {
		return waitErr
	}
	return fmt.Errorf("clean exit before handshake")
}

// Send writes one message followed by the line terminator. Writes are
// serialized so concurrent callers cannot interleave partial frames.
func (t *StdioTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.Exited() {
		return fmt.Errorf("tool server has exited")
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to tool server: %w", err)
	}
	return nil
}

// ReadLine blocks until the next newline-terminated message arrives.
// It returns io.EOF (possibly wrapped) once the stream is closed.
func (t *StdioTransport) ReadLine() ([]byte, error) {
	line, err := t.stdout.ReadBytes('\n')
	if err != nil {
		if len(line) > 0 {
			return line, nil
		}
		return nil, err
	}
	return line, nil
}

// Exited reports whether the child process has terminated.
func (t *StdioTransport) Exited() bool {
	select {
	case <-t.waitCh:
		return true
	default:
		return false
	}
}

// Stop terminates the process and closes both streams. It is idempotent
// and always waits for the process to be reaped, so no orphan is left
// behind regardless of which exit path triggered the shutdown.
func (t *StdioTransport) Stop() error {
	t.stopOnce.Do(func() {
		t.logger.Println("stopping tool server")
		t.writeMu.Lock()
		_ = t.stdin.Close()
		t.writeMu.Unlock()

		select {
		case <-t.waitCh:
		case <-time.After(2 * time.Second):
			_ = t.cmd.Process.Kill()
			<-t.waitCh
		}
		t.logger.Println("tool server stopped")
	})
	return nil
}

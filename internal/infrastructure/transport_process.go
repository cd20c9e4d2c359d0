package infrastructure

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/internal/domain"
)

// ProcessTransport runs the daemon as a child process and exchanges JSON
// lines over its stdin and stdout. The daemon's stderr is appended to a
// dated log file.
//
// The stdout pipe is owned by the transport rather than by exec.Cmd, so
// Wait never closes it: reports written just before the daemon exits stay
// readable until the reader reaches EOF.
type ProcessTransport struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	encoder *json.Encoder
	decoder *json.Decoder
	stderr  *os.File
	logger  *zap.Logger
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
	exited    chan struct{}
	drainOnce sync.Once
	drained   chan struct{}
}

// drainGrace bounds how long Close waits for a reader to consume what an
// exited daemon left in the pipe
const drainGrace = 500 * time.Millisecond

// ProcessDialer returns a Dialer that spawns the configured daemon binary
func ProcessDialer(config domain.DaemonConfig, logsDir string, logger *zap.Logger) Dialer {
	return func(ctx context.Context) (Transport, error) {
		return StartProcessTransport(config, logsDir, logger)
	}
}

// StartProcessTransport spawns the daemon binary
func StartProcessTransport(config domain.DaemonConfig, logsDir string, logger *zap.Logger) (*ProcessTransport, error) {
	stderr, err := openDaemonLog(logsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open daemon log: %w", err)
	}

	cmdLine := ShellEscapeCommand(config.Binary, config.Args...)
	fmt.Fprintf(stderr, "\n=== [%s] Daemon started ===\n$ %s\n", time.Now().Format("2006-01-02 15:04:05"), cmdLine)

	cmd := exec.Command(config.Binary, config.Args...)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		stderr.Close()
		return nil, fmt.Errorf("failed to open daemon stdin: %w", err)
	}
	stdout, stdoutWriter, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to open daemon stdout: %w", err)
	}
	cmd.Stdout = stdoutWriter

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stdoutWriter.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start daemon %s: %w", config.Binary, err)
	}
	// The child holds its own copy; ours must go for EOF to arrive on exit.
	stdoutWriter.Close()
	logger.Info("Daemon process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("command", cmdLine))

	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	t := &ProcessTransport{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		encoder: json.NewEncoder(stdin),
		decoder: json.NewDecoder(bufio.NewReader(stdout)),
		stderr:  stderr,
		logger:  logger,
		timeout: timeout,
		exited:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	go t.wait()
	return t, nil
}

func (t *ProcessTransport) wait() {
	defer close(t.exited)
	err := t.cmd.Wait()
	status := "exited"
	if err != nil {
		status = err.Error()
	}
	fmt.Fprintf(t.stderr, "[%s] Daemon %s\n=== END ===\n", time.Now().Format("2006-01-02 15:04:05"), status)
	t.logger.Info("Daemon process exited", zap.String("status", status))
}

// WriteJSON writes one message as a JSON line
func (t *ProcessTransport) WriteJSON(v interface{}) error {
	return t.encoder.Encode(v)
}

// ReadJSON reads the next JSON message. It returns io.EOF once the daemon
// has exited and everything it wrote has been read.
func (t *ProcessTransport) ReadJSON(v interface{}) error {
	err := t.decoder.Decode(v)
	if err != nil {
		t.drainOnce.Do(func() { close(t.drained) })
	}
	return err
}

// Close closes the daemon's stdin and waits for it to exit, killing it after
// the shutdown timeout
func (t *ProcessTransport) Close() error {
	t.closeOnce.Do(func() {
		t.stdin.Close()
		select {
		case <-t.exited:
		case <-time.After(t.timeout):
			t.logger.Warn("Daemon did not exit, killing it")
			if err := t.cmd.Process.Kill(); err != nil {
				t.closeErr = fmt.Errorf("failed to kill daemon: %w", err)
			}
			<-t.exited
		}
		select {
		case <-t.drained:
		case <-time.After(drainGrace):
		}
		t.stdout.Close()
		t.stderr.Close()
	})
	return t.closeErr
}

func openDaemonLog(logsDir string) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	path := filepath.Join(logsDir, "daemon-stderr-"+time.Now().Format("20060102")+".log")
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

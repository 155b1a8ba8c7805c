package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/log"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/protocol"
)

const (
	// maxStderrBytes caps the amount of stderr captured from a plugin call.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	defaultCallTimeout = 30 * time.Second
)

// ErrProtocol marks a plugin response that could not be understood.
var ErrProtocol = errors.New("plugin protocol error")

// Subprocess is a Plugin backed by an executable. Every call spawns the
// entrypoint, writes one request to stdin and reads one response from stdout.
type Subprocess struct {
	def     *Definition
	timeout time.Duration
	logger  *slog.Logger
}

// NewSubprocess wraps a discovered plugin. A non-positive timeout uses the default.
func NewSubprocess(def *Definition, timeout time.Duration) *Subprocess {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Subprocess{
		def:     def,
		timeout: timeout,
		logger:  log.WithPlugin(def.Name),
	}
}

func (s *Subprocess) Name() string { return s.def.Name }

func (s *Subprocess) Capabilities() Capabilities { return s.def.Capabilities }

func (s *Subprocess) Definition() *Definition { return s.def }

// Handshake asks the plugin for its name and checks it against the manifest.
func (s *Subprocess) Handshake(ctx context.Context) error {
	resp, err := s.call(ctx, protocol.MethodPluginName, nil)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if resp.Name != s.def.Name {
		return fmt.Errorf("handshake: %w: plugin reports name %q, manifest says %q", ErrProtocol, resp.Name, s.def.Name)
	}
	return nil
}

func (s *Subprocess) FilterOps(ctx context.Context, ops []protocol.Item) (*protocol.Result, error) {
	return s.optimize(ctx, protocol.MethodFilterOps, ops)
}

func (s *Subprocess) ProcessOps(ctx context.Context, ops []protocol.Item) (*protocol.Result, error) {
	return s.optimize(ctx, protocol.MethodProcessOps, ops)
}

func (s *Subprocess) optimize(ctx context.Context, method string, ops []protocol.Item) (*protocol.Result, error) {
	resp, err := s.call(ctx, method, ops)
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return &protocol.Result{}, nil
	}
	return resp.Result, nil
}

// call performs one request/response exchange. A plugin-reported error with
// retry=false becomes a *RejectedError; every other failure is returned as is.
func (s *Subprocess) call(ctx context.Context, method string, ops []protocol.Item) (*protocol.Response, error) {
	timeout := s.timeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			timeout = remaining
		}
	}
	req := &protocol.Request{
		Protocol:   protocol.Version,
		Method:     method,
		Plugin:     s.def.Name,
		Ops:        ops,
		DeadlineAt: time.Now().Add(timeout).UTC(),
	}

	logger := s.logger.With("method", method, "ops", len(ops))
	resp, stderr, err := spawn(ctx, s.def.Entrypoint, req, timeout, logger)
	if stderr != "" {
		logger.Debug("plugin stderr", "stderr", stderr)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("plugin %s %s timed out after %v: %w", s.def.Name, method, timeout, err)
		}
		return nil, fmt.Errorf("plugin %s %s: %w", s.def.Name, method, err)
	}

	for _, entry := range resp.Logs {
		logger.Info("plugin log", "level", entry.Level, "message", entry.Message)
	}

	if resp.Status == "error" {
		if !resp.ShouldRetry() {
			return nil, &RejectedError{Plugin: s.def.Name, Reason: resp.Error}
		}
		return nil, fmt.Errorf("plugin %s %s: %s", s.def.Name, method, resp.Error)
	}
	return resp, nil
}

// spawn runs entrypoint once. On timeout or cancellation the process gets
// SIGTERM, then SIGKILL after the grace period.
func spawn(
	ctx context.Context,
	entrypoint string,
	req *protocol.Request,
	timeout time.Duration,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Not CommandContext: termination is managed here.
	cmd := exec.Command(entrypoint)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grandchildren holding stdout open must not stall Wait after the plugin exits.
	cmd.WaitDelay = time.Second

	logger.Debug("spawning plugin", "entrypoint", entrypoint, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	terminate := func(cause error) (*protocol.Response, string, error) {
		logger.Warn("terminating plugin, sending SIGTERM", "cause", cause)
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed to send SIGTERM", "error", err)
			}
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("plugin exited after SIGTERM")
		case <-grace.C:
			logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
			if cmd.Process != nil {
				if err := cmd.Process.Kill(); err != nil {
					logger.Error("failed to send SIGKILL", "error", err)
				}
			}
			<-waitErr
		}
		return nil, truncateStderr(stderr.String()), cause
	}

	select {
	case <-timeoutTimer.C:
		return terminate(context.DeadlineExceeded)

	case <-ctx.Done():
		return terminate(ctx.Err())

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if werr := <-writeErr; werr != nil {
			return nil, stderrStr, werr
		}

		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
			logger.Warn("plugin exited with non-zero status", "exit_code", exitErr.ExitCode())
		}

		resp, rawBytes, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode plugin response", "error", err, "stdout", string(truncateBytes(rawBytes)))
			return nil, stderrStr, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return resp, stderrStr, nil
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}

func truncateBytes(b []byte) []byte {
	if len(b) > maxStderrBytes {
		return b[:maxStderrBytes]
	}
	return b
}

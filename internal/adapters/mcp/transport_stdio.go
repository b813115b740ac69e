package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/longregen/toolrouter/internal/domain/models"
)

var shellMetaChars = regexp.MustCompile(`[;&|$` + "`" + `\(\)<>]`)

// validateCommand validates a command and its arguments to prevent command injection.
// It ensures the command exists as an executable and validates arguments for safety.
func validateCommand(command string, args []string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command cannot be empty")
	}

	if shellMetaChars.MatchString(command) {
		return "", fmt.Errorf("command contains invalid characters")
	}

	cmdPath, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("command not found: %s", command)
	}

	for i, arg := range args {
		if shellMetaChars.MatchString(arg) {
			return "", fmt.Errorf("argument %d contains invalid characters", i)
		}
		lowerArg := strings.ToLower(arg)
		if strings.HasPrefix(lowerArg, "--exec") ||
			strings.HasPrefix(lowerArg, "--config=") ||
			strings.HasPrefix(lowerArg, "-c=") {
			return "", fmt.Errorf("argument %d contains potentially dangerous flag", i)
		}
	}

	return cmdPath, nil
}

// mergeEnv overlays extra on base, keeping base order and appending new keys
// sorted.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := extra[key]; ok {
			out = append(out, key+"="+v)
			seen[key] = true
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// StdioTransport speaks newline-delimited JSON to a child process.
type StdioTransport struct {
	cfg     models.TransportConfig
	handler TransportHandler
	logger  *slog.Logger
	maxLine int
	lc      *lifecycle

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex
}

// NewStdioTransport creates a new stdio transport
func NewStdioTransport(cfg models.TransportConfig, handler TransportHandler, opts TransportOptions) *StdioTransport {
	opts = opts.withDefaults()
	return &StdioTransport{
		cfg:     cfg,
		handler: handler,
		logger:  opts.Logger,
		maxLine: opts.MaxLineBytes,
		lc:      newLifecycle(handler, opts),
	}
}

func (t *StdioTransport) Type() models.TransportType { return models.TransportStdio }

// Connect spawns the configured command.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen, err := t.lc.begin()
	if err != nil {
		return err
	}

	cmdPath, err := validateCommand(t.cfg.Command, t.cfg.Args)
	if err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	cmd := exec.Command(cmdPath, t.cfg.Args...)
	cmd.Dir = t.cfg.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), t.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start command: %w", err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.mu.Unlock()

	readDone := make(chan struct{})
	go t.readLoop(gen, stdout, readDone)
	go t.readStderr(stderr)
	go t.monitorProcess(gen, cmd, readDone)

	if !t.lc.up(gen) {
		_ = cmd.Process.Kill()
		return fmt.Errorf("stdio transport closed while connecting")
	}
	t.logger.Debug("started server process", "command", cmdPath, "pid", cmd.Process.Pid)
	return nil
}

// Send writes one JSON document followed by a newline.
func (t *StdioTransport) Send(ctx context.Context, message any) error {
	if !t.lc.isConnected() {
		return notConnected(models.TransportStdio)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeMessage(message)
	if err != nil {
		return err
	}
	data = append(bytes.TrimRight(data, "\r\n"), '\n')

	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()
	if stdin == nil {
		return notConnected(models.TransportStdio)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Disconnect kills the child process.
func (t *StdioTransport) Disconnect() error {
	t.lc.shutdown()

	t.mu.Lock()
	cmd, stdin := t.cmd, t.stdin
	t.cmd, t.stdin = nil, nil
	t.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

func (t *StdioTransport) IsConnected() bool {
	return t.lc.isConnected()
}

// readLoop splits stdout into lines. Partial lines are buffered until their
// newline arrives; oversized and malformed lines are dropped with a warning.
func (t *StdioTransport) readLoop(gen uint64, stdout io.Reader, done chan<- struct{}) {
	defer close(done)

	reader := bufio.NewReaderSize(stdout, 64*1024)
	var line []byte
	oversized := false

	for {
		chunk, err := reader.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > t.maxLine {
				oversized = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if len(bytes.TrimSpace(line)) > 0 {
				t.logger.Warn("discarding incomplete line at end of stream", "bytes", len(line))
			}
			return
		}

		if oversized {
			t.logger.Warn("discarding oversized line", "limit", t.maxLine)
		} else {
			t.deliver(gen, line)
		}
		line = line[:0]
		oversized = false
	}
}

func (t *StdioTransport) deliver(gen uint64, line []byte) {
	data := bytes.TrimSpace(line)
	if len(data) == 0 {
		return
	}
	if !json.Valid(data) {
		t.logger.Warn("discarding malformed line", "line", truncate(string(data), 200))
		return
	}
	if !t.lc.current(gen) {
		return
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	t.handler.OnMessage(msg)
}

// maxStderrLine caps how much of one stderr line reaches the log. The rest
// of the line is still read so the child never blocks on a full pipe.
const maxStderrLine = 4096

// readStderr forwards diagnostic output to the debug log until the pipe
// closes.
func (t *StdioTransport) readStderr(stderr io.Reader) {
	reader := bufio.NewReaderSize(stderr, maxStderrLine)
	line := make([]byte, 0, maxStderrLine)
	truncated := false

	for {
		chunk, err := reader.ReadSlice('\n')
		if room := maxStderrLine - len(line); room > 0 {
			line = append(line, chunk[:min(room, len(chunk))]...)
			truncated = truncated || len(chunk) > room
		} else if len(bytes.TrimRight(chunk, "\r\n")) > 0 {
			truncated = true
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if text := bytes.TrimRight(line, "\r\n"); len(text) > 0 {
			t.logger.Debug("server stderr", "line", string(text), "truncated", truncated)
		}
		line = line[:0]
		truncated = false
		if err != nil {
			return
		}
	}
}

// monitorProcess waits for the child to exit and reports abnormal exits.
func (t *StdioTransport) monitorProcess(gen uint64, cmd *exec.Cmd, readDone <-chan struct{}) {
	<-readDone
	err := cmd.Wait()
	if err == nil {
		err = io.EOF
	}
	t.lc.down(gen, fmt.Errorf("process exited: %w", err), t.Connect)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

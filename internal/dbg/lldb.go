package dbg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// promptToken is installed as the lldb prompt so command boundaries can
// be detected in the output stream. Chosen to be unlikely in any
// command output.
const promptToken = "<sostest-lldb> "

// closeGrace is how long Close waits for lldb to quit before killing it.
const closeGrace = 5 * time.Second

var (
	stoppedRE   = regexp.MustCompile(`Process \d+ stopped`)
	runningRE   = regexp.MustCompile(`Process \d+ (launched|running|resuming)`)
	exitedRE    = regexp.MustCompile(`Process \d+ exited with status = (-?\d+)`)
	errorLineRE = regexp.MustCompile(`(?m)^error: (.*)$`)
	promptStrip = regexp.MustCompile(regexp.QuoteMeta(promptToken))
)

// LLDBOptions configures a driven lldb process.
type LLDBOptions struct {
	// Path to the lldb binary. Defaults to "lldb" on PATH.
	Path string
	// Plugin is the debugger-extension artifact to load before the
	// debuggee launches. Optional.
	Plugin string
	// Runner is the debuggee runner binary (e.g. corerun).
	Runner string
	// Assembly is the target assembly passed to the runner.
	Assembly string
	Logger   *slog.Logger
}

// LLDB drives an interactive lldb subprocess over pipes. Commands are
// written to stdin; combined output is read until the next prompt
// token. lldb runs with async mode off, so every command blocks until
// the debuggee is stopped or exited again.
type LLDB struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	chunks  <-chan readChunk
	pending string
	logger  *slog.Logger
}

type readChunk struct {
	data []byte
	err  error
}

// StartLLDB spawns lldb and waits for the first prompt.
func StartLLDB(ctx context.Context, opts LLDBOptions) (*LLDB, error) {
	path := opts.Path
	if path == "" {
		path = "lldb"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	args := []string{"--no-use-colors"}
	if opts.Plugin != "" {
		args = append(args, "-O", "plugin load "+opts.Plugin)
	}
	args = append(args, "-O", `settings set prompt "`+promptToken+`"`)
	args = append(args, "-O", "settings set auto-confirm true")
	args = append(args, "--", opts.Runner, opts.Assembly)

	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("lldb stdin: %w", err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start lldb: %w", err)
	}

	chunks := make(chan readChunk, 16)
	go func() {
		defer close(chunks)
		buf := make([]byte, 4096)
		for {
			n, err := pr.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				chunks <- readChunk{data: data}
			}
			if err != nil {
				chunks <- readChunk{err: err}
				return
			}
		}
	}()
	go func() {
		cmd.Wait()
		pw.Close()
	}()

	l := &LLDB{cmd: cmd, stdin: stdin, chunks: chunks, logger: logger}

	// Consume startup banner up to the first prompt.
	if _, err := l.readUntilPrompt(ctx); err != nil {
		l.Close()
		return nil, fmt.Errorf("await lldb prompt: %w", err)
	}
	return l, nil
}

// Exec issues one command and collects its output up to the next
// prompt. Failure is recognized by "error:" lines in the output, which
// is how lldb reports command errors on the console.
func (l *LLDB) Exec(ctx context.Context, command string) (Result, error) {
	l.logger.Debug("exec", "command", command)
	if _, err := io.WriteString(l.stdin, command+"\n"); err != nil {
		return Result{}, fmt.Errorf("write command: %w", err)
	}
	out, err := l.readUntilPrompt(ctx)
	if err != nil {
		return Result{}, err
	}
	res := resultFromOutput(out)
	l.logger.Debug("exec done", "command", command, "success", res.Success)
	return res, nil
}

// State issues "process status" and classifies the answer.
func (l *LLDB) State(ctx context.Context) (ProcessState, error) {
	res, err := l.Exec(ctx, "process status")
	if err != nil {
		return StateUnknown, err
	}
	return ParseProcessState(res.Output), nil
}

// ExitStatus issues "process status" and extracts the exit status.
func (l *LLDB) ExitStatus(ctx context.Context) (int, error) {
	res, err := l.Exec(ctx, "process status")
	if err != nil {
		return 0, err
	}
	status, ok := ParseExitStatus(res.Output)
	if !ok {
		return 0, fmt.Errorf("debuggee has not exited: %q", strings.TrimSpace(res.Output))
	}
	return status, nil
}

// Close asks lldb to quit and kills it if it does not comply. The
// harness driver's process-group kill remains the final backstop.
func (l *LLDB) Close() error {
	io.WriteString(l.stdin, "quit\n")
	l.stdin.Close()

	done := make(chan struct{})
	go func() {
		for range l.chunks {
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(closeGrace):
		if l.cmd.Process != nil {
			l.cmd.Process.Kill()
		}
		<-done
		return fmt.Errorf("lldb did not quit; killed")
	}
}

// readUntilPrompt accumulates output until the prompt token appears,
// returning everything before it.
func (l *LLDB) readUntilPrompt(ctx context.Context) (string, error) {
	acc := l.pending
	l.pending = ""
	for {
		if i := strings.Index(acc, promptToken); i >= 0 {
			l.pending = acc[i+len(promptToken):]
			return acc[:i], nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-l.chunks:
			if !ok || chunk.err != nil {
				if chunk.err == io.EOF || !ok {
					return "", fmt.Errorf("lldb closed its output: %w", io.ErrUnexpectedEOF)
				}
				return "", fmt.Errorf("read lldb output: %w", chunk.err)
			}
			acc += string(chunk.data)
		}
	}
}

// resultFromOutput classifies raw command output. Any "error:" line
// marks the command failed; the remaining lines stay as output.
func resultFromOutput(raw string) Result {
	out := promptStrip.ReplaceAllString(raw, "")
	errs := errorLineRE.FindAllStringSubmatch(out, -1)
	res := Result{Output: out, Success: len(errs) == 0}
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, m := range errs {
			msgs[i] = m[1]
		}
		res.Err = strings.Join(msgs, "\n")
	}
	return res
}

// ParseProcessState classifies "process status" output.
func ParseProcessState(output string) ProcessState {
	switch {
	case exitedRE.MatchString(output):
		return StateExited
	case stoppedRE.MatchString(output):
		return StateStopped
	case runningRE.MatchString(output):
		return StateRunning
	default:
		return StateUnknown
	}
}

// ParseExitStatus extracts the exit status from "process status"
// output. The second return is false while the debuggee is still alive.
func ParseExitStatus(output string) (int, bool) {
	m := exitedRE.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	status, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return status, true
}

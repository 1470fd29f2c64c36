package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const (
	ffmpegBin  = "ffmpeg"
	ffprobeBin = "ffprobe"

	// stderrTail bounds how much ffmpeg diagnostic output is kept per process.
	stderrTail = 16 << 10
)

// ExecError reports a failed ffmpeg invocation together with the end of its
// stderr output.
type ExecError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	msg := lastLines(e.Stderr, 4)
	if msg == "" {
		return fmt.Sprintf("ffmpeg: %v", e.Err)
	}
	return fmt.Sprintf("ffmpeg: %v: %s", e.Err, msg)
}

func (e *ExecError) Unwrap() error { return e.Err }

// command builds an ffmpeg child bound to ctx with its stderr captured.
func command(ctx context.Context, args []string) (*exec.Cmd, *tailBuffer) {
	cmd := exec.CommandContext(ctx, ffmpegBin, args...)
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	return cmd, stderr
}

// run executes ffmpeg with args and waits for it to finish.
func run(ctx context.Context, args []string) error {
	cmd, stderr := command(ctx, args)
	if err := cmd.Run(); err != nil {
		return &ExecError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// tailBuffer is an io.Writer that keeps only the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// lastLines returns the last n non-empty lines of s joined by "; ".
func lastLines(s string, n int) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}

// seconds formats a time or rate value for the ffmpeg command line.
func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

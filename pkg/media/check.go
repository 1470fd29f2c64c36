package media

import (
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Tool is an external binary the renderer depends on.
type Tool struct {
	Name    string
	Path    string
	Version string
	Err     error
}

// CheckTools resolves ffmpeg and ffprobe on PATH and reads their version
// banners. Each result carries its own error; the returned error is the
// first failure, if any.
func CheckTools(ctx context.Context) ([]Tool, error) {
	var first error
	tools := make([]Tool, 0, 2)
	for _, name := range []string{ffmpegBin, ffprobeBin} {
		t := Tool{Name: name}
		t.Path, t.Err = exec.LookPath(name)
		if t.Err == nil {
			t.Version, t.Err = version(ctx, t.Path)
		}
		if t.Err != nil && first == nil {
			first = errors.Wrapf(t.Err, "%s unavailable", name)
		}
		tools = append(tools, t)
	}
	return tools, first
}

// version returns the first line of "<bin> -version".
func version(ctx context.Context, bin string) (string, error) {
	out, err := exec.CommandContext(ctx, bin, "-version").Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

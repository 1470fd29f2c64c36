package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Concat joins segments, in order, into output without re-encoding. The
// segments must share codecs and stream layout. The list file is written
// next to the first segment.
func Concat(ctx context.Context, segments []string, output string) error {
	if len(segments) == 0 {
		return errors.New("concat: no segments")
	}

	list := filepath.Join(filepath.Dir(segments[0]), "concat.txt")
	if err := os.WriteFile(list, []byte(concatList(segments)), 0o644); err != nil {
		return errors.Wrap(err, "write concat list")
	}
	defer os.Remove(list)

	return run(ctx, concatArgs(list, output))
}

// concatList renders the concat demuxer script for segments.
func concatList(segments []string) string {
	var b strings.Builder
	for _, s := range segments {
		if abs, err := filepath.Abs(s); err == nil {
			s = abs
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(s, "'", `'\''`))
	}
	return b.String()
}

func concatArgs(list, output string) []string {
	return ffmpeg.Input(list, ffmpeg.KwArgs{"format": "concat", "safe": "0"}).
		Output(output, ffmpeg.KwArgs{"c": "copy", "movflags": "+faststart"}).
		OverWriteOutput().
		GlobalArgs("-hide_banner", "-nostdin", "-loglevel", "error").
		GetArgs()
}

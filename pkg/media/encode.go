package media

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Encoding holds the output codec settings shared by every segment. All
// segments of one render must use the same values so they can be joined
// without re-encoding.
type Encoding struct {
	VideoCodec string // e.g. "libx264"
	AudioCodec string // e.g. "aac"
	Bitrate    string // video bitrate, e.g. "8M"
	Preset     string // encoder speed preset, e.g. "medium"
	Threads    int
	SampleRate int
	Channels   int
}

// AudioSource is the part of a file whose audio track accompanies a segment.
type AudioSource struct {
	Path  string
	Start float64
	Loop  bool
}

// SegmentOptions describes one encoded segment.
type SegmentOptions struct {
	Width    int
	Height   int
	FPS      float64
	Duration float64
	Audio    *AudioSource // nil: generated silence
	Encoding Encoding
}

// SegmentWriter encodes RGBA frames written to it into a video file.
type SegmentWriter struct {
	cmd    *exec.Cmd
	args   []string
	stderr *tailBuffer
	in     io.WriteCloser
	cancel context.CancelFunc
	size   image.Point
	frames int
	closed bool
}

// NewSegmentWriter starts an ffmpeg process encoding to path.
func NewSegmentWriter(ctx context.Context, path string, opts SegmentOptions) (*SegmentWriter, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.FPS <= 0 {
		return nil, errors.Errorf("segment %s: invalid geometry %dx%d@%v", path, opts.Width, opts.Height, opts.FPS)
	}

	args := encodeArgs(path, opts)
	ctx, cancel := context.WithCancel(ctx)
	cmd, stderr := command(ctx, args)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "ffmpeg stdin")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "start ffmpeg for %s", path)
	}

	return &SegmentWriter{
		cmd:    cmd,
		args:   args,
		stderr: stderr,
		in:     stdin,
		cancel: cancel,
		size:   image.Pt(opts.Width, opts.Height),
	}, nil
}

// encodeArgs builds the ffmpeg command line (without the binary) for a
// segment: rawvideo on stdin as input 0, audio as input 1.
func encodeArgs(path string, opts SegmentOptions) []string {
	video := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":    "rawvideo",
		"pix_fmt":   "rgba",
		"s":         fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"framerate": seconds(opts.FPS),
	}).Video()

	enc := opts.Encoding
	var audio *ffmpeg.Stream
	if a := opts.Audio; a != nil {
		in := ffmpeg.KwArgs{}
		if a.Start > 0 {
			in["ss"] = seconds(a.Start)
		}
		if a.Loop {
			in["stream_loop"] = "-1"
		}
		audio = ffmpeg.Input(a.Path, in).Audio()
	} else {
		audio = ffmpeg.Input(
			fmt.Sprintf("anullsrc=channel_layout=%s:sample_rate=%d", layout(enc.Channels), enc.SampleRate),
			ffmpeg.KwArgs{"format": "lavfi"},
		).Audio()
	}

	out := ffmpeg.KwArgs{
		"c:v":     enc.VideoCodec,
		"b:v":     enc.Bitrate,
		"preset":  enc.Preset,
		"pix_fmt": "yuv420p",
		"r":       seconds(opts.FPS),
		"c:a":     enc.AudioCodec,
		"ar":      strconv.Itoa(enc.SampleRate),
		"ac":      strconv.Itoa(enc.Channels),
	}
	if enc.Threads > 0 {
		out["threads"] = strconv.Itoa(enc.Threads)
	}
	if opts.Duration > 0 {
		out["t"] = seconds(opts.Duration)
	}

	return ffmpeg.Output([]*ffmpeg.Stream{video, audio}, path, out).
		OverWriteOutput().
		GlobalArgs("-hide_banner", "-loglevel", "error").
		GetArgs()
}

func layout(channels int) string {
	if channels == 1 {
		return "mono"
	}
	return "stereo"
}

// WriteFrame sends one frame to the encoder. The frame must match the
// segment size.
func (w *SegmentWriter) WriteFrame(img *image.RGBA) error {
	if img.Bounds().Size() != w.size {
		return errors.Errorf("frame %d is %v, segment is %v", w.frames, img.Bounds().Size(), w.size)
	}
	row := w.size.X * 4
	if img.Stride == row {
		if _, err := w.in.Write(img.Pix[:row*w.size.Y]); err != nil {
			return w.fail(err)
		}
	} else {
		for y := 0; y < w.size.Y; y++ {
			if _, err := w.in.Write(img.Pix[y*img.Stride : y*img.Stride+row]); err != nil {
				return w.fail(err)
			}
		}
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (w *SegmentWriter) Frames() int { return w.frames }

// fail aborts the encoder after a write error; ffmpeg's own diagnostics
// usually explain why the pipe broke.
func (w *SegmentWriter) fail(writeErr error) error {
	w.closed = true
	w.in.Close()
	if err := w.cmd.Wait(); err != nil {
		w.cancel()
		return &ExecError{Args: w.args, Stderr: w.stderr.String(), Err: err}
	}
	w.cancel()
	return errors.Wrap(writeErr, "write frame")
}

// Close finishes the stream and waits for the encoder to write the file.
func (w *SegmentWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cancel()
	if err := w.in.Close(); err != nil {
		return errors.Wrap(err, "close ffmpeg stdin")
	}
	if err := w.cmd.Wait(); err != nil {
		return &ExecError{Args: w.args, Stderr: w.stderr.String(), Err: err}
	}
	return nil
}

// Abort kills the encoder without finishing the file.
func (w *SegmentWriter) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.cancel()
	w.in.Close()
	_ = w.cmd.Wait()
}

package media

import (
	"bufio"
	"context"
	"image"
	"io"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// DecodeOptions selects the portion of a file to decode and the shape of the
// frames produced.
type DecodeOptions struct {
	Width    int     // frame width delivered to the caller
	Height   int     // frame height delivered to the caller
	FPS      float64 // output frame rate; 0 keeps the source rate
	Start    float64 // seek offset into the source, seconds
	Duration float64 // stop after this many seconds; 0 decodes to the end
	Loop     bool    // repeat the source indefinitely; requires Duration
}

// FrameReader streams decoded RGBA frames from an ffmpeg child process.
type FrameReader struct {
	cmd    *exec.Cmd
	args   []string
	stderr *tailBuffer
	out    *bufio.Reader
	cancel context.CancelFunc
	size   image.Point
	frame  int
	done   bool
	err    error
}

// Decode starts an ffmpeg process decoding path into RGBA rawvideo frames.
func Decode(ctx context.Context, path string, opts DecodeOptions) (*FrameReader, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.Errorf("decode %s: invalid frame size %dx%d", path, opts.Width, opts.Height)
	}
	if opts.Loop && opts.Duration <= 0 {
		return nil, errors.Errorf("decode %s: looping requires a duration", path)
	}

	args := decodeArgs(path, opts)
	ctx, cancel := context.WithCancel(ctx)
	cmd, stderr := command(ctx, args)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "ffmpeg stdout")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "start ffmpeg for %s", path)
	}

	return &FrameReader{
		cmd:    cmd,
		args:   args,
		stderr: stderr,
		out:    bufio.NewReaderSize(stdout, opts.Width*opts.Height*4),
		cancel: cancel,
		size:   image.Pt(opts.Width, opts.Height),
	}, nil
}

// decodeArgs builds the ffmpeg command line (without the binary) for Decode.
func decodeArgs(path string, opts DecodeOptions) []string {
	in := ffmpeg.KwArgs{}
	if opts.Start > 0 {
		in["ss"] = seconds(opts.Start)
	}
	if opts.Loop {
		in["stream_loop"] = "-1"
	}

	out := ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgba"}
	if opts.Duration > 0 {
		out["t"] = seconds(opts.Duration)
	}

	s := ffmpeg.Input(path, in).Video()
	if opts.FPS > 0 {
		s = s.Filter("fps", ffmpeg.Args{seconds(opts.FPS)})
	}
	// Frames are expected at display size already; the scale pins the
	// buffer size even if the rotation metadata was misreported.
	s = s.Filter("scale", ffmpeg.Args{strconv.Itoa(opts.Width), strconv.Itoa(opts.Height)})

	return s.Output("pipe:", out).
		GlobalArgs("-hide_banner", "-nostdin", "-loglevel", "error").
		GetArgs()
}

// Next returns the next frame. It returns io.EOF after the last frame once
// ffmpeg has exited cleanly.
func (r *FrameReader) Next() (*image.RGBA, error) {
	if r.done {
		if r.err != nil {
			return nil, r.err
		}
		return nil, io.EOF
	}

	img := image.NewRGBA(image.Rectangle{Max: r.size})
	_, err := io.ReadFull(r.out, img.Pix)
	switch {
	case err == nil:
		r.frame++
		return img, nil
	case errors.Is(err, io.EOF):
		r.finish(nil)
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.finish(errors.Errorf("truncated frame %d", r.frame))
	default:
		r.finish(err)
	}
	if r.err != nil {
		return nil, r.err
	}
	return nil, io.EOF
}

// finish waits for the process and records the terminal error, if any.
func (r *FrameReader) finish(readErr error) {
	waitErr := r.cmd.Wait()
	r.cancel()
	r.done = true
	switch {
	case waitErr != nil:
		r.err = &ExecError{Args: r.args, Stderr: r.stderr.String(), Err: waitErr}
	case readErr != nil:
		r.err = errors.Wrap(readErr, "read frame")
	}
}

// Close stops the decoder. It is safe to call after Next returned io.EOF.
func (r *FrameReader) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	r.cancel()
	_ = r.cmd.Wait()
	return nil
}

// Package media is the process boundary to ffmpeg and ffprobe.
//
// Everything that touches a container or codec lives here:
//   - Probe: one ffprobe JSON call per file (dimensions, rate, duration, audio).
//   - Decode: an ffmpeg child writing RGBA rawvideo frames to a pipe.
//   - SegmentWriter: an ffmpeg child reading RGBA rawvideo frames from a pipe
//     and muxing them with a source audio track or generated silence.
//   - Concat: joins encoded segments with the concat demuxer (stream copy).
//
// Command lines are assembled with github.com/u2takey/ffmpeg-go and run with
// exec.CommandContext so that cancelling the context kills the child.
package media

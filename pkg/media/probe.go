package media

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Info describes the primary video stream of a media file. Width and Height
// are display dimensions: a 90/270 degree rotation is already applied, as
// ffmpeg autorotates decoded frames.
type Info struct {
	Path       string
	Width      int
	Height     int
	FPS        float64
	Duration   float64
	Rotation   int
	VideoCodec string
	HasAudio   bool
}

// Probe runs a single ffprobe JSON call against path. A context deadline
// bounds the ffprobe run.
func Probe(ctx context.Context, path string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		out string
		err error
	)
	if dl, ok := ctx.Deadline(); ok {
		out, err = ffmpeg.ProbeWithTimeout(path, time.Until(dl), nil)
	} else {
		out, err = ffmpeg.Probe(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "ffprobe %q", path)
	}
	info, err := ParseProbe([]byte(out))
	if err != nil {
		return nil, errors.Wrapf(err, "ffprobe %q", path)
	}
	info.Path = path
	return info, nil
}

// ParseProbe converts raw ffprobe JSON output into an Info. It fails when the
// output has no video stream. Exported for testing without ffprobe.
func ParseProbe(data []byte) (*Info, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse ffprobe JSON")
	}

	info := &Info{}
	var video *ffprobeStream
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil && s.Disposition["attached_pic"] != 1 {
				video = s
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if video == nil {
		return nil, errors.New("no video stream")
	}

	info.VideoCodec = video.CodecName
	info.Width, info.Height = video.Width, video.Height
	info.Rotation = rotation(video)
	if info.Rotation%180 != 0 {
		info.Width, info.Height = info.Height, info.Width
	}

	info.FPS = parseRate(video.AvgFrameRate)
	if info.FPS == 0 {
		info.FPS = parseRate(video.RFrameRate)
	}

	info.Duration = parseFloat(video.Duration)
	if info.Duration == 0 {
		info.Duration = parseFloat(raw.Format.Duration)
	}
	if info.Duration == 0 && info.FPS > 0 {
		info.Duration = float64(parseInt(video.NbFrames)) / info.FPS
	}
	return info, nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	Duration     string            `json:"duration"`
	NbFrames     string            `json:"nb_frames"`
	Disposition  map[string]int    `json:"disposition"`
	Tags         map[string]string `json:"tags"`
	SideDataList []ffprobeSideData `json:"side_data_list"`
}

type ffprobeSideData struct {
	SideDataType string  `json:"side_data_type"`
	Rotation     float64 `json:"rotation"`
}

// rotation returns the stream rotation in degrees normalized to [0, 360).
// Newer ffprobe reports it in the display matrix side data, older builds in
// the "rotate" tag.
func rotation(s *ffprobeStream) int {
	deg := 0
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			deg = int(math.Round(sd.Rotation))
			break
		}
	}
	if deg == 0 {
		deg = parseInt(s.Tags["rotate"])
	}
	return ((deg % 360) + 360) % 360
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

// parseRate parses an ffprobe rational such as "30000/1001" or "24".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(num)
	}
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return parseFloat(num) / d
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

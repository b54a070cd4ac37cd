package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"sightline/internal/pipeline"
)

// Probe describes the primary video stream of a file
type Probe struct {
	Codec      string
	Width      int
	Height     int
	FPS        float64
	FrameCount int
	Duration   float64 // Seconds, 0 if unknown
}

type ffprobeOutput struct {
	Streams []struct {
		CodecName     string `json:"codec_name"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=codec_name,width,height,r_frame_rate,avg_frame_rate,nb_frames,nb_read_packets:format=duration",
		"-of", "json",
		path,
	}
}

// ProbeFile runs ffprobe against path
func ProbeFile(ctx context.Context, ffprobe, path string) (*Probe, error) {
	cmd := exec.CommandContext(ctx, ffprobe, probeArgs(path)...)
	var stderr tailBuffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe %s: %v: %s", pipeline.ErrMedia, path, err, stderr.String())
	}
	return parseProbe(out)
}

// parseProbe validates ffprobe JSON output. A file without a decodable
// video stream, frames, or frame rate is rejected.
func parseProbe(data []byte) (*Probe, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ffprobe output: %v", pipeline.ErrMedia, err)
	}
	if len(raw.Streams) == 0 {
		return nil, fmt.Errorf("%w: no video stream", pipeline.ErrMedia)
	}
	s := raw.Streams[0]

	fps := parseRate(s.RFrameRate)
	if fps <= 0 {
		fps = parseRate(s.AvgFrameRate)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("%w: unknown frame rate", pipeline.ErrMedia)
	}

	frames, _ := strconv.Atoi(s.NbFrames)
	if frames <= 0 {
		frames, _ = strconv.Atoi(s.NbReadPackets)
	}
	if frames <= 0 {
		return nil, fmt.Errorf("%w: video has no frames", pipeline.ErrMedia)
	}

	duration, _ := strconv.ParseFloat(raw.Format.Duration, 64)

	return &Probe{
		Codec:      s.CodecName,
		Width:      s.Width,
		Height:     s.Height,
		FPS:        fps,
		FrameCount: frames,
		Duration:   duration,
	}, nil
}

// parseRate parses ffprobe rationals such as "30000/1001" or plain numbers
func parseRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		return 0
	}
	num, den, ok := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// tailBuffer keeps the last few KiB written to it, for error messages
type tailBuffer struct {
	buf []byte
}

const tailBufferSize = 4096

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > tailBufferSize {
		b.buf = b.buf[len(b.buf)-tailBufferSize:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}

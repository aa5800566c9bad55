package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MediaTools shells out to ffprobe/ffmpeg. The encoding itself is external
// to this process; we only drive it.
type MediaTools struct{}

func NewMediaTools() *MediaTools { return &MediaTools{} }

type MediaInfo struct {
	Width    int
	Height   int
	FPS      float64
	Duration int // seconds, rounded
}

func (m *MediaTools) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Errorf("ffprobe error: %v | %s", err, strings.TrimSpace(stderr.String()))
	}

	var raw struct {
		Streams []struct {
			CodecType    string `json:"codec_type"`
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			RFrameRate   string `json:"r_frame_rate"`
			AvgFrameRate string `json:"avg_frame_rate"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, errors.Wrap(err, "parse ffprobe output")
	}

	info := &MediaInfo{Width: 1920, Height: 1080}
	found := false
	for _, s := range raw.Streams {
		if s.CodecType != "video" {
			continue
		}
		found = true
		if s.Width > 0 {
			info.Width = s.Width
		}
		if s.Height > 0 {
			info.Height = s.Height
		}
		info.FPS = parseFrameRate(s.RFrameRate, s.AvgFrameRate)
		break
	}
	if !found {
		return nil, errors.New("no video stream")
	}
	if d, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
		info.Duration = int(math.Round(d))
	}
	return info, nil
}

func parseFrameRate(rates ...string) float64 {
	for _, r := range rates {
		if r == "" {
			continue
		}
		num, den := 0.0, 1.0
		parts := strings.SplitN(r, "/", 2)
		num, _ = strconv.ParseFloat(parts[0], 64)
		if len(parts) == 2 {
			den, _ = strconv.ParseFloat(parts[1], 64)
		}
		if den == 0 {
			den = 1
		}
		if num > 0 {
			return num / den
		}
	}
	return 0
}

// Encode re-encodes to the fixed target profile: resolution capped at
// 1920 wide, fixed bitrate ladder, keyframe interval of two seconds at the
// source frame rate, faststart for streaming.
func (m *MediaTools) Encode(ctx context.Context, inputPath, outputPath string, info *MediaInfo) error {
	encodeCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	keyframeInterval := int(math.Round(info.FPS * 2))
	if keyframeInterval < 1 {
		keyframeInterval = 48
	}

	args := []string{"-y", "-nostdin", "-loglevel", "error", "-i", inputPath}
	if info.Width > 1920 {
		args = append(args, "-vf", "scale=1920:-2")
	}
	args = append(args,
		"-c:v", "libx264",
		"-profile:v", "high",
		"-level:v", "4.1",
		"-c:a", "aac",
		"-ar", "48000",
		"-b:a", "128k",
		"-b:v", "6000k",
		"-maxrate", "12000k",
		"-bufsize", "12000k",
		"-preset", "medium",
		"-g", fmt.Sprintf("%d", keyframeInterval),
		"-keyint_min", fmt.Sprintf("%d", keyframeInterval),
		"-sc_threshold", "0",
		"-movflags", "+faststart",
		outputPath,
	)

	cmd := exec.CommandContext(encodeCtx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Errorf("ffmpeg error: %v | %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

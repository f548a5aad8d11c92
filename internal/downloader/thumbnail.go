package downloader

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Thumbnailer derives a still image from a downloaded video.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, videoPath, outPath string) error
}

// FFmpeg grabs one frame with the ffmpeg binary.
type FFmpeg struct {
	Path string
	// Offset is the seek position passed to -ss, e.g. "00:00:01".
	Offset string
}

// Thumbnail writes a single scaled JPEG frame of videoPath to outPath.
func (f FFmpeg) Thumbnail(ctx context.Context, videoPath, outPath string) error {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("downloader: ffmpeg not found: %w", err)
	}
	offset := f.Offset
	if offset == "" {
		offset = "00:00:01"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-y",
		"-loglevel", "error",
		"-ss", offset,
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", "scale=320:-2",
		outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("downloader: ffmpeg thumbnail: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

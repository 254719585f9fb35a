package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/laytan/pind/internal/tube"
	"github.com/sirupsen/logrus"
)

// Splitter cuts audio files into fixed windows with ffmpeg.
type Splitter struct {
	BinFfmpeg  string
	BinFfprobe string
	Log        logrus.FieldLogger
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration asks ffprobe for the container duration.
func (s *Splitter) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(
		ctx,
		s.BinFfprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"--",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, tube.ExecErr("ffprobe", err, stderr.String())
	}

	return parseProbe(stdout.Bytes())
}

func parseProbe(out []byte) (time.Duration, error) {
	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("unmarshalling ffprobe output %q: %w", string(out), err)
	}

	if probe.Format.Duration == "" {
		return 0, fmt.Errorf("no duration in ffprobe output %q", string(out))
	}

	secs, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", probe.Format.Duration, err)
	}

	return time.Duration(math.Round(secs * float64(time.Second))), nil
}

// Windows returns the start offsets of fixed windows covering total.
func Windows(total, window time.Duration) []time.Duration {
	if total <= 0 || window <= 0 {
		return nil
	}

	n := int(math.Ceil(float64(total) / float64(window)))
	starts := make([]time.Duration, n)
	for i := range starts {
		starts[i] = time.Duration(i) * window
	}
	return starts
}

// Chunk is one window of the source file.
type Chunk struct {
	Index int
	Start time.Duration
	Path  string
}

// ChunkPath is where chunk i of src is written, next to src.
func ChunkPath(src string, i int) string {
	ext := filepath.Ext(src)
	return fmt.Sprintf("%s.chunk%03d%s", strings.TrimSuffix(src, ext), i, ext)
}

// Plan lays out the windows of src without touching the file system beyond probing.
func (s *Splitter) Plan(ctx context.Context, src string, window time.Duration) ([]Chunk, error) {
	total, err := s.Duration(ctx, src)
	if err != nil {
		return nil, err
	}

	starts := Windows(total, window)
	chunks := make([]Chunk, len(starts))
	for i, start := range starts {
		chunks[i] = Chunk{Index: i, Start: start, Path: ChunkPath(src, i)}
	}

	s.Log.WithFields(logrus.Fields{"file": src, "duration": total, "chunks": len(chunks)}).Info("planned audio chunks")
	return chunks, nil
}

// Extract writes a single window to c.Path, stream copied so nothing is re-encoded.
// On failure the partial output is removed.
func (s *Splitter) Extract(ctx context.Context, src string, c Chunk, window time.Duration) error {
	cmd := exec.CommandContext(
		ctx,
		s.BinFfmpeg,
		"-y",
		"-v", "error",
		"-ss", fmt.Sprintf("%.3f", c.Start.Seconds()),
		"-t", fmt.Sprintf("%.3f", window.Seconds()),
		"-i", src,
		"-vn",
		"-c", "copy",
		"--",
		c.Path,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(c.Path)
		return tube.ExecErr("ffmpeg", err, stderr.String())
	}

	return nil
}

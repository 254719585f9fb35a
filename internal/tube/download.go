package tube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Downloader shells out to yt-dlp.
type Downloader struct {
	BinYtDlp string
	Log      logrus.FieldLogger
}

// DownloadAudio writes the best audio track of the video to a file in dir that is unique to this call.
// The caller owns the returned file and must remove it.
func (d *Downloader) DownloadAudio(ctx context.Context, videoId, dir string) (string, error) {
	base := filepath.Join(dir, videoId+"-"+uuid.NewString())
	path := base + ".m4a"

	d.Log.WithField("video_id", videoId).Info("downloading audio")
	cmd := exec.CommandContext(
		ctx,
		d.BinYtDlp,
		"-f",
		"bestaudio",
		"--ignore-config",
		"--no-progress",
		"--no-playlist",
		"--extract-audio",
		"--audio-format",
		"m4a",
		"--output",
		base+".%(ext)s",
		"--",
		WatchURL(videoId),
	)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.Stdout = stdout // yt-dlp reports some errors on stdout.
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		CleanGlob(d.Log, base+".*")
		return "", ExecErr("yt-dlp", err, stdout.String(), stderr.String())
	}

	if _, err := os.Stat(path); err != nil {
		CleanGlob(d.Log, base+".*")
		return "", fmt.Errorf("yt-dlp did not produce %s: %w", path, err)
	}

	// Intermediate files yt-dlp might leave behind.
	CleanGlob(d.Log, base+".*", path)

	return path, nil
}

// CleanGlob removes every file matching glob except the given exceptions.
func CleanGlob(log logrus.FieldLogger, glob string, exceptions ...string) {
	matches, err := filepath.Glob(glob)
	if err != nil {
		log.WithError(err).Error("glob for files to delete failed")
		return
	}

Outer:
	for _, match := range matches {
		for _, exception := range exceptions {
			if match == exception {
				continue Outer
			}
		}

		log.WithField("file", match).Debug("deleting file (cleanup)")
		if err := os.Remove(match); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("file", match).Error("could not delete")
		}
	}
}

// ExecErr describes a failed external command.
func ExecErr(id string, err error, extra ...string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == -1 {
			return fmt.Errorf("%s: killed, context cancelled?: %w", id, err)
		}

		return fmt.Errorf(
			"%s: exit code %d and output %q: %w",
			id,
			exitErr.ExitCode(),
			strings.TrimSpace(strings.Join(extra, ", ")),
			err,
		)
	}

	return fmt.Errorf("%s: unexpected err: %w", id, err)
}

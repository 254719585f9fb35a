package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/laytan/pind/internal/audio"
	"github.com/laytan/pind/internal/tube"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Source string

const (
	SourceNone     Source = "none"
	SourceCaptions Source = "captions"
	SourceSTT      Source = "stt"
)

var ErrNoTranscriber = errors.New("no speech-to-text configured")

type CaptionSource interface {
	Captions(ctx context.Context, videoId string, langs []string) (*tube.Transcript, tube.TranscriptType, error)
}

type MetadataSource interface {
	Metadata(ctx context.Context, videoId string) (tube.Metadata, error)
}

type AudioDownloader interface {
	DownloadAudio(ctx context.Context, videoId, dir string) (string, error)
}

type AudioSplitter interface {
	Plan(ctx context.Context, src string, window time.Duration) ([]audio.Chunk, error)
	Extract(ctx context.Context, src string, c audio.Chunk, window time.Duration) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Result is empty-string for anything that could not be resolved.
type Result struct {
	VideoID    string
	Transcript string
	Title      string
	Thumbnail  string
	Source     Source
}

type Resolver struct {
	Captions   CaptionSource
	Metadata   MetadataSource
	Downloader AudioDownloader
	Splitter   AudioSplitter
	STT        Transcriber

	Languages     []string
	ChunkLimit    int64
	ChunkDuration time.Duration
	TmpDir        string
	Log           logrus.FieldLogger
}

// Resolve gets the transcript and metadata of the video at url.
// Only an unparseable url is an error, a video without any obtainable transcript
// results in an empty Transcript.
func (r *Resolver) Resolve(ctx context.Context, url string) (*Result, error) {
	videoId, ok := tube.ExtractVideoID(url)
	if !ok {
		return nil, fmt.Errorf("%q: %w", url, tube.ErrInvalidURL)
	}

	log := r.Log.WithField("video_id", videoId)
	res := &Result{VideoID: videoId, Source: SourceNone}

	var group errgroup.Group
	group.Go(func() error {
		md, err := r.Metadata.Metadata(ctx, videoId)
		if err != nil {
			log.WithError(err).Warn("metadata unavailable")
		}
		res.Title, res.Thumbnail = md.Title, md.Thumbnail
		return nil
	})

	var text string
	var source Source
	group.Go(func() error {
		text, source = r.transcript(ctx, log, videoId)
		return nil
	})

	_ = group.Wait()

	res.Transcript = text
	if text != "" {
		res.Source = source
	}
	return res, nil
}

func (r *Resolver) transcript(ctx context.Context, log logrus.FieldLogger, videoId string) (string, Source) {
	captions, typ, err := r.Captions.Captions(ctx, videoId, r.Languages)
	if err == nil {
		if text := captions.Text(); text != "" {
			log.WithField("type", typ.String()).Info("using captions")
			return text, SourceCaptions
		}
		err = tube.ErrNoCaptions
	}
	log.WithError(err).Info("captions unavailable, falling back to speech-to-text")

	text, err := r.speechToText(ctx, log, videoId)
	if err != nil {
		log.WithError(err).Warn("speech-to-text failed, no transcript")
		return "", SourceNone
	}

	return text, SourceSTT
}

func (r *Resolver) speechToText(ctx context.Context, log logrus.FieldLogger, videoId string) (string, error) {
	if r.STT == nil || r.Downloader == nil {
		return "", ErrNoTranscriber
	}

	path, err := r.Downloader.DownloadAudio(ctx, videoId, r.TmpDir)
	if err != nil {
		return "", fmt.Errorf("downloading audio: %w", err)
	}
	defer remove(log, path)

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat downloaded audio: %w", err)
	}

	if info.Size() < r.ChunkLimit {
		log.WithField("bytes", info.Size()).Info("transcribing audio in one go")
		text, err := r.STT.Transcribe(ctx, path)
		if err != nil {
			return "", fmt.Errorf("transcribing: %w", err)
		}
		return strings.TrimSpace(text), nil
	}

	return r.transcribeChunks(ctx, log, path)
}

func (r *Resolver) transcribeChunks(ctx context.Context, log logrus.FieldLogger, path string) (string, error) {
	chunks, err := r.Splitter.Plan(ctx, path, r.ChunkDuration)
	if err != nil {
		return "", fmt.Errorf("planning chunks: %w", err)
	}

	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		// Inner function so every chunk is removed before the next one is cut.
		text, err := func() (string, error) {
			defer remove(log, chunk.Path)

			if err := r.Splitter.Extract(ctx, path, chunk, r.ChunkDuration); err != nil {
				return "", fmt.Errorf("cutting chunk %d: %w", chunk.Index, err)
			}

			log.WithFields(logrus.Fields{"chunk": chunk.Index + 1, "of": len(chunks)}).Info("transcribing chunk")
			text, err := r.STT.Transcribe(ctx, chunk.Path)
			if err != nil {
				return "", fmt.Errorf("transcribing chunk %d: %w", chunk.Index, err)
			}
			return strings.TrimSpace(text), nil
		}()
		if err != nil {
			return "", err
		}

		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

func remove(log logrus.FieldLogger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).WithField("file", path).Error("cleaning up audio")
	}
}

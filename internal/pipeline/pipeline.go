package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/laytan/pind/internal/llm"
	"github.com/laytan/pind/internal/store"
	"github.com/laytan/pind/internal/transcript"
	"github.com/laytan/pind/internal/tube"
	"github.com/laytan/pind/internal/verify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type TranscriptResolver interface {
	Resolve(ctx context.Context, url string) (*transcript.Result, error)
}

type CandidateExtractor interface {
	Extract(ctx context.Context, transcript string) ([]llm.Candidate, error)
}

type RegionInferrer interface {
	InferRegion(ctx context.Context, transcript string) string
}

type PlaceVerifier interface {
	VerifyBatch(ctx context.Context, cs []llm.Candidate, region string) []verify.Place
}

type ResultStore interface {
	GetContent(ctx context.Context, videoId string) (*store.Content, error)
	UpsertContent(ctx context.Context, in store.ContentInput) (*store.Content, error)
	SavePlaces(ctx context.Context, videoId string, places []store.PlaceInput) ([]store.Place, error)
	PlacesFor(ctx context.Context, videoId string) ([]store.Place, error)
	RecordHistory(ctx context.Context, userId int64, videoId string) error
}

// Mode tells callers whether a result was served from the store or computed.
type Mode string

const (
	ModeDB  Mode = "db"
	ModeNew Mode = "new"

	// ModeNewProcessing marks a job accepted for background extraction.
	ModeNewProcessing Mode = "new_processing"
)

type Place struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type Output struct {
	VideoID   string        `json:"video_id"`
	Title     string        `json:"title"`
	Thumbnail string        `json:"thumbnail_url,omitempty"`
	Places    []Place       `json:"places"`
	Mode      Mode          `json:"mode"`
	Cached    bool          `json:"cached"`
	Duration  time.Duration `json:"-"`
}

type Orchestrator struct {
	Transcripts TranscriptResolver
	Candidates  CandidateExtractor
	Regions     RegionInferrer
	Verifier    PlaceVerifier
	Store       ResultStore
	Log         logrus.FieldLogger
}

// run carries the per-call state through the stages.
type run struct {
	o        *Orchestrator
	videoId  string
	url      string
	progress ProgressFunc
	state    State
	log      logrus.FieldLogger
}

func (r *run) enter(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before %s: %w", s, err)
	}

	r.state = s
	r.log.WithField("stage", s.String()).Debug("entering stage")
	r.emit(Event{State: s, Percent: s.Percent()})
	return nil
}

func (r *run) emit(e Event) {
	e.VideoID = r.videoId
	if r.progress != nil {
		r.progress(e)
	}
}

func (r *run) fail(err error) error {
	r.log.WithError(err).WithField("stage", r.state.String()).Error("extraction failed")
	r.emit(Event{State: Failed, Percent: r.state.Percent(), Err: err})
	return err
}

// Cached returns the stored result for the video when there is one, recording the user's history.
func (o *Orchestrator) Cached(ctx context.Context, url string, userId *int64) (*Output, bool, error) {
	videoId, ok := tube.ExtractVideoID(url)
	if !ok {
		return nil, false, fmt.Errorf("%q: %w", url, tube.ErrInvalidURL)
	}

	content, err := o.Store.GetContent(ctx, videoId)
	if err != nil {
		return nil, false, err
	}
	if content == nil {
		return nil, false, nil
	}

	stored, err := o.Store.PlacesFor(ctx, videoId)
	if err != nil {
		return nil, false, err
	}

	if err := o.recordHistory(ctx, userId, videoId); err != nil {
		return nil, false, err
	}

	return &Output{
		VideoID:   videoId,
		Title:     content.Title.String,
		Thumbnail: content.ThumbnailUrl.String,
		Places:    fromStored(stored),
		Mode:      ModeDB,
		Cached:    true,
	}, true, nil
}

// Process runs the whole extraction for the video at url, reporting every stage to progress.
// Stored videos are served without any external calls.
func (o *Orchestrator) Process(ctx context.Context, url string, userId *int64, progress ProgressFunc) (*Output, error) {
	start := time.Now()
	videoId, ok := tube.ExtractVideoID(url)
	if !ok {
		err := fmt.Errorf("%q: %w", url, tube.ErrInvalidURL)
		if progress != nil {
			progress(Event{State: Failed, Err: err})
		}
		return nil, err
	}

	r := &run{
		o:        o,
		videoId:  videoId,
		url:      url,
		progress: progress,
		state:    Queued,
		log:      o.Log.WithField("video_id", videoId),
	}

	out, err := r.process(ctx, userId)
	if err != nil {
		return nil, r.fail(err)
	}

	out.Duration = time.Since(start)
	r.state = Completed
	r.emit(Event{State: Completed, Percent: Completed.Percent()})
	r.log.WithFields(logrus.Fields{
		"mode":     out.Mode,
		"places":   len(out.Places),
		"duration": out.Duration,
	}).Info("extraction completed")
	return out, nil
}

func (r *run) process(ctx context.Context, userId *int64) (*Output, error) {
	o := r.o

	if out, ok, err := o.Cached(ctx, r.url, userId); err != nil {
		return nil, fmt.Errorf("checking cache: %w", err)
	} else if ok {
		r.log.Info("cache hit")
		return out, nil
	}

	if err := r.enter(ctx, ResolvingTranscript); err != nil {
		return nil, err
	}
	res, err := o.Transcripts.Resolve(ctx, r.url)
	if err != nil {
		return nil, fmt.Errorf("resolving transcript: %w", err)
	}

	out := &Output{
		VideoID:   r.videoId,
		Title:     res.Title,
		Thumbnail: res.Thumbnail,
		Places:    []Place{},
		Mode:      ModeNew,
	}

	if res.Transcript == "" {
		r.log.Info("no transcript, storing metadata only")
		if err := r.enter(ctx, Persisting); err != nil {
			return nil, err
		}
		if err := r.persistContent(ctx, res); err != nil {
			return nil, err
		}
		if err := o.recordHistory(ctx, userId, r.videoId); err != nil {
			return nil, err
		}
		return out, nil
	}

	if err := r.enter(ctx, ExtractingCandidates); err != nil {
		return nil, err
	}

	var candidates []llm.Candidate
	var region string
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		candidates, err = o.Candidates.Extract(gctx, res.Transcript)
		return err
	})
	group.Go(func() error {
		region = o.Regions.InferRegion(gctx, res.Transcript)
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("extracting candidates: %w", err)
	}

	var verified []verify.Place
	if len(candidates) > 0 {
		if err := r.enter(ctx, VerifyingPlaces); err != nil {
			return nil, err
		}
		verified = o.Verifier.VerifyBatch(ctx, candidates, region)
	}

	if err := r.enter(ctx, Persisting); err != nil {
		return nil, err
	}

	// Content first, a stored content is what makes the next request a cache hit.
	if err := r.persistContent(ctx, res); err != nil {
		return nil, err
	}

	if len(verified) > 0 {
		inputs := make([]store.PlaceInput, len(verified))
		for i, p := range verified {
			inputs[i] = store.PlaceInput{Name: p.Name, Lat: p.Lat, Lng: p.Lng}
		}

		saved, err := o.Store.SavePlaces(ctx, r.videoId, inputs)
		if err != nil {
			return nil, fmt.Errorf("saving places: %w", err)
		}
		out.Places = fromStored(saved)
	}

	if err := o.recordHistory(ctx, userId, r.videoId); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *run) persistContent(ctx context.Context, res *transcript.Result) error {
	if _, err := r.o.Store.UpsertContent(ctx, store.ContentInput{
		VideoID:    r.videoId,
		Type:       store.ContentTypeYoutube,
		URL:        r.url,
		Transcript: res.Transcript,
		Title:      res.Title,
		Thumbnail:  res.Thumbnail,
	}); err != nil {
		return fmt.Errorf("saving content: %w", err)
	}
	return nil
}

func (o *Orchestrator) recordHistory(ctx context.Context, userId *int64, videoId string) error {
	if userId == nil {
		return nil
	}

	if err := o.Store.RecordHistory(ctx, *userId, videoId); err != nil {
		return fmt.Errorf("recording history: %w", err)
	}
	return nil
}

func fromStored(stored []store.Place) []Place {
	places := make([]Place, len(stored))
	for i, p := range stored {
		places[i] = Place{Name: p.Name, Lat: p.Lat, Lng: p.Lng}
	}
	return places
}

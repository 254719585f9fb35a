package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/laytan/pind/internal/llm"
	"github.com/laytan/pind/internal/store"
	"github.com/laytan/pind/internal/transcript"
	"github.com/laytan/pind/internal/tube"
	"github.com/laytan/pind/internal/verify"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const url = "https://www.youtube.com/watch?v=abc123"

type fakeTranscripts struct {
	res   *transcript.Result
	err   error
	calls int
}

func (f *fakeTranscripts) Resolve(_ context.Context, _ string) (*transcript.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeCandidates struct {
	cs    []llm.Candidate
	err   error
	calls int
}

func (f *fakeCandidates) Extract(_ context.Context, _ string) ([]llm.Candidate, error) {
	f.calls++
	return f.cs, f.err
}

type fakeRegions struct {
	region string
	calls  int
}

func (f *fakeRegions) InferRegion(_ context.Context, _ string) string {
	f.calls++
	return f.region
}

type fakeVerifier struct {
	region string
	calls  int
}

func (f *fakeVerifier) VerifyBatch(_ context.Context, cs []llm.Candidate, region string) []verify.Place {
	f.calls++
	f.region = region
	places := make([]verify.Place, 0, len(cs))
	for i, c := range cs {
		places = append(places, verify.Place{Name: c.Name, Lat: float64(i), Lng: float64(i)})
	}
	return places
}

// memStore keeps everything in maps.
type memStore struct {
	mu       sync.Mutex
	contents map[string]*store.Content
	places   map[string][]store.Place
	history  map[int64][]string
	nextId   int64
	failSave bool
}

func newMemStore() *memStore {
	return &memStore{
		contents: map[string]*store.Content{},
		places:   map[string][]store.Place{},
		history:  map[int64][]string{},
	}
}

func (m *memStore) GetContent(_ context.Context, videoId string) (*store.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contents[videoId], nil
}

func (m *memStore) UpsertContent(_ context.Context, in store.ContentInput) (*store.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &store.Content{
		ContentID:    in.VideoID,
		ContentType:  string(in.Type),
		Title:        sql.NullString{String: in.Title, Valid: in.Title != ""},
		ThumbnailUrl: sql.NullString{String: in.Thumbnail, Valid: in.Thumbnail != ""},
	}
	m.contents[in.VideoID] = c
	return c, nil
}

func (m *memStore) SavePlaces(_ context.Context, videoId string, in []store.PlaceInput) ([]store.Place, error) {
	if m.failSave {
		return nil, errors.New("database is down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range in {
		m.nextId++
		m.places[videoId] = append(m.places[videoId], store.Place{PlaceID: m.nextId, Name: p.Name, Lat: p.Lat, Lng: p.Lng})
	}
	return m.places[videoId], nil
}

func (m *memStore) PlacesFor(_ context.Context, videoId string) ([]store.Place, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.places[videoId], nil
}

func (m *memStore) RecordHistory(_ context.Context, userId int64, videoId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[userId] = append(m.history[userId], videoId)
	return nil
}

type fixture struct {
	o           *Orchestrator
	transcripts *fakeTranscripts
	candidates  *fakeCandidates
	regions     *fakeRegions
	verifier    *fakeVerifier
	store       *memStore
	events      []Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log, _ := test.NewNullLogger()
	f := &fixture{
		transcripts: &fakeTranscripts{res: &transcript.Result{
			VideoID:    "abc123",
			Transcript: "we ate at Jungsik then Mingles",
			Title:      "Seoul food tour",
			Thumbnail:  "https://i.ytimg.com/vi/abc123/maxresdefault.jpg",
			Source:     transcript.SourceCaptions,
		}},
		candidates: &fakeCandidates{cs: []llm.Candidate{{Name: "Jungsik"}, {Name: "Mingles"}}},
		regions:    &fakeRegions{region: "Seoul"},
		verifier:   &fakeVerifier{},
		store:      newMemStore(),
	}
	f.o = &Orchestrator{
		Transcripts: f.transcripts,
		Candidates:  f.candidates,
		Regions:     f.regions,
		Verifier:    f.verifier,
		Store:       f.store,
		Log:         log,
	}
	return f
}

func (f *fixture) record(e Event) {
	f.events = append(f.events, e)
}

func (f *fixture) states() []State {
	states := make([]State, len(f.events))
	for i, e := range f.events {
		states[i] = e.State
	}
	return states
}

func uid(id int64) *int64 { return &id }

func TestProcessNew(t *testing.T) {
	f := newFixture(t)

	out, err := f.o.Process(context.Background(), url, uid(7), f.record)
	require.NoError(t, err)

	assert.Equal(t, ModeNew, out.Mode)
	assert.Equal(t, "abc123", out.VideoID)
	assert.Equal(t, "Seoul food tour", out.Title)
	assert.Equal(t, []Place{{Name: "Jungsik", Lat: 0, Lng: 0}, {Name: "Mingles", Lat: 1, Lng: 1}}, out.Places)
	assert.Equal(t, "Seoul", f.verifier.region)
	assert.Equal(t, []string{"abc123"}, f.store.history[7])

	assert.Equal(t, []State{ResolvingTranscript, ExtractingCandidates, VerifyingPlaces, Persisting, Completed}, f.states())

	last := -1
	for _, e := range f.events {
		assert.GreaterOrEqual(t, e.Percent, last)
		assert.Equal(t, "abc123", e.VideoID)
		last = e.Percent
	}
	assert.Equal(t, 100, last)
}

func TestProcessSecondRunIsCached(t *testing.T) {
	f := newFixture(t)

	first, err := f.o.Process(context.Background(), url, uid(7), nil)
	require.NoError(t, err)

	second, err := f.o.Process(context.Background(), "https://youtu.be/abc123", uid(8), f.record)
	require.NoError(t, err)

	assert.Equal(t, ModeDB, second.Mode)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Places, second.Places)
	assert.Equal(t, first.Title, second.Title)
	assert.Equal(t, 1, f.transcripts.calls)
	assert.Equal(t, 1, f.candidates.calls)
	assert.Equal(t, 1, f.regions.calls)
	assert.Equal(t, 1, f.verifier.calls)
	assert.Equal(t, []string{"abc123"}, f.store.history[8])
	assert.Equal(t, []State{Completed}, f.states())
}

func TestProcessNoTranscript(t *testing.T) {
	f := newFixture(t)
	f.transcripts.res = &transcript.Result{VideoID: "abc123", Title: "Silent video", Source: transcript.SourceNone}

	out, err := f.o.Process(context.Background(), url, nil, f.record)
	require.NoError(t, err)

	assert.Equal(t, []Place{}, out.Places)
	assert.Equal(t, "Silent video", out.Title)
	assert.Equal(t, 0, f.candidates.calls)
	assert.Equal(t, 0, f.verifier.calls)
	assert.Contains(t, f.store.contents, "abc123")

	// Stored even without places, so the next request does not hit the APIs again.
	again, err := f.o.Process(context.Background(), url, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeDB, again.Mode)
	assert.Equal(t, 1, f.transcripts.calls)
}

func TestProcessNoCandidates(t *testing.T) {
	f := newFixture(t)
	f.candidates.cs = []llm.Candidate{}

	out, err := f.o.Process(context.Background(), url, nil, f.record)
	require.NoError(t, err)

	assert.Empty(t, out.Places)
	assert.NotNil(t, out.Places)
	assert.Equal(t, 0, f.verifier.calls)
	assert.NotContains(t, f.states(), VerifyingPlaces)
	assert.Contains(t, f.store.contents, "abc123")
}

func TestProcessInvalidURL(t *testing.T) {
	f := newFixture(t)

	_, err := f.o.Process(context.Background(), "https://example.com/video", nil, f.record)
	require.ErrorIs(t, err, tube.ErrInvalidURL)

	assert.Equal(t, 0, f.transcripts.calls)
	require.Len(t, f.events, 1)
	assert.Equal(t, Failed, f.events[0].State)
}

func TestProcessExtractionFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("llm down")
	f.candidates.err = boom

	_, err := f.o.Process(context.Background(), url, uid(1), f.record)
	require.ErrorIs(t, err, boom)

	last := f.events[len(f.events)-1]
	assert.Equal(t, Failed, last.State)
	assert.Equal(t, ExtractingCandidates.Percent(), last.Percent)
	assert.ErrorIs(t, last.Err, boom)
	assert.Empty(t, f.store.contents)
	assert.Empty(t, f.store.history)
}

func TestProcessPersistFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failSave = true

	_, err := f.o.Process(context.Background(), url, uid(1), f.record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saving places")
	assert.Equal(t, Failed, f.events[len(f.events)-1].State)
	assert.Empty(t, f.store.history)
}

func TestProcessCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.o.Process(ctx, url, nil, f.record)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.transcripts.calls)
}

func TestCached(t *testing.T) {
	f := newFixture(t)

	_, ok, err := f.o.Cached(context.Background(), url, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.o.Process(context.Background(), url, nil, nil)
	require.NoError(t, err)

	out, ok, err := f.o.Cached(context.Background(), url, uid(3))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ModeDB, out.Mode)
	assert.Len(t, out.Places, 2)
	assert.Equal(t, []string{"abc123"}, f.store.history[3])
}

func TestStatePercent(t *testing.T) {
	assert.Equal(t, 0, Queued.Percent())
	assert.Equal(t, 20, ResolvingTranscript.Percent())
	assert.Equal(t, 45, ExtractingCandidates.Percent())
	assert.Equal(t, 70, VerifyingPlaces.Percent())
	assert.Equal(t, 90, Persisting.Percent())
	assert.Equal(t, 100, Completed.Percent())
	assert.Equal(t, "verifying_places", VerifyingPlaces.String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Persisting.Terminal())
}

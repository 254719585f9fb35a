package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/laytan/pind/internal/jobs"
	"github.com/laytan/pind/internal/pipeline"
	"github.com/laytan/pind/internal/store"
	"github.com/laytan/pind/internal/tube"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const videoURL = "https://www.youtube.com/watch?v=abc123"

type fakeExtractor struct {
	cached    *pipeline.Output
	out       *pipeline.Output
	err       error
	processed int
	userId    *int64
}

func (f *fakeExtractor) Process(_ context.Context, _ string, userId *int64, _ pipeline.ProgressFunc) (*pipeline.Output, error) {
	f.processed++
	f.userId = userId
	return f.out, f.err
}

func (f *fakeExtractor) Cached(_ context.Context, _ string, _ *int64) (*pipeline.Output, bool, error) {
	return f.cached, f.cached != nil, nil
}

type fakeJobs struct {
	submitted []string
	submitErr error
	records   map[string]*jobs.Record
	updates   []jobs.Update
}

func (f *fakeJobs) Submit(_ context.Context, url string, _ *int64) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, url)
	return "job-1", nil
}

func (f *fakeJobs) Status(_ context.Context, id string) (*jobs.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return rec, nil
}

func (f *fakeJobs) Result(ctx context.Context, id string) (*jobs.Record, error) {
	rec, err := f.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Terminal() {
		return nil, jobs.ErrNotReady
	}
	return rec, nil
}

func (f *fakeJobs) Subscribe(_ context.Context, id string) (<-chan jobs.Update, func(), error) {
	if _, ok := f.records[id]; !ok {
		return nil, nil, jobs.ErrJobNotFound
	}

	ch := make(chan jobs.Update, len(f.updates))
	for _, u := range f.updates {
		ch <- u
	}
	close(ch)
	return ch, func() {}, nil
}

type fakeHistory struct {
	entries []store.HistoryEntry
}

func (f *fakeHistory) HistoryFor(_ context.Context, _ int64) ([]store.HistoryEntry, error) {
	return f.entries, nil
}

type fakePinger struct {
	err error
}

func (f fakePinger) PingContext(context.Context) error {
	return f.err
}

type fixture struct {
	server    *Server
	extractor *fakeExtractor
	jobs      *fakeJobs
	history   *fakeHistory
	hook      *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log, hook := test.NewNullLogger()
	f := &fixture{
		extractor: &fakeExtractor{},
		jobs:      &fakeJobs{records: map[string]*jobs.Record{}},
		history:   &fakeHistory{},
		hook:      hook,
	}
	f.server = New(f.extractor, f.jobs, f.history, fakePinger{}, log)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) (*http.Response, map[string]any) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := f.server.App.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(data) > 0 && strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &decoded))
	}
	return res, decoded
}

func TestSubmitJob(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodPost, "/api/v1/jobs", `{"url":"`+videoURL+`","user_id":3}`)

	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "new_processing", body["mode"])
	assert.Equal(t, []string{videoURL}, f.jobs.submitted)
	assert.NotEmpty(t, res.Header.Get(requestIdHeader))
}

func TestSubmitJobCached(t *testing.T) {
	f := newFixture(t)
	f.extractor.cached = &pipeline.Output{
		VideoID: "abc123",
		Title:   "Seoul food tour",
		Places:  []pipeline.Place{{Name: "Jungsik", Lat: 37.52, Lng: 127.04}},
		Mode:    pipeline.ModeDB,
	}

	res, body := f.do(t, http.MethodPost, "/api/v1/jobs", `{"url":"`+videoURL+`"}`)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "db", body["mode"])
	assert.Len(t, body["places"], 1)
	assert.Empty(t, f.jobs.submitted)
}

func TestSubmitJobInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"url":`},
		{name: "missing url", body: `{}`},
		{name: "not a url", body: `{"url":"hello"}`},
		{name: "not youtube", body: `{"url":"https://vimeo.com/123"}`},
		{name: "bad user", body: `{"url":"` + videoURL + `","user_id":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			res, body := f.do(t, http.MethodPost, "/api/v1/jobs", tt.body)

			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, "error", body["status"])
			assert.Empty(t, f.jobs.submitted)
		})
	}
}

func TestSubmitJobQueueFull(t *testing.T) {
	f := newFixture(t)
	f.jobs.submitErr = jobs.ErrQueueFull

	res, body := f.do(t, http.MethodPost, "/api/v1/jobs", `{"url":"`+videoURL+`"}`)

	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "error", body["status"])
}

func TestJobStatus(t *testing.T) {
	f := newFixture(t)
	f.jobs.records["job-1"] = &jobs.Record{ID: "job-1", Status: jobs.StatusProgress, Step: "verifying_places", Progress: 70}
	f.jobs.records["job-2"] = &jobs.Record{ID: "job-2", Status: jobs.StatusPending}

	res, body := f.do(t, http.MethodGet, "/api/v1/jobs/job-1/status", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "PROGRESS", body["status"])
	assert.EqualValues(t, 70, body["progress"])
	assert.Equal(t, "verifying_places", body["current_step"])

	_, body = f.do(t, http.MethodGet, "/api/v1/jobs/job-2/status", "")
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "N/A", body["current_step"])

	res, body = f.do(t, http.MethodGet, "/api/v1/jobs/nope/status", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "error", body["status"])
}

func TestJobResult(t *testing.T) {
	f := newFixture(t)
	f.jobs.records["running"] = &jobs.Record{ID: "running", Status: jobs.StatusProgress}
	f.jobs.records["done"] = &jobs.Record{
		ID:             "done",
		Status:         jobs.StatusSuccess,
		ProcessingTime: 12.5,
		Result: &pipeline.Output{
			Title:  "Seoul food tour",
			Places: []pipeline.Place{{Name: "Jungsik", Lat: 37.52, Lng: 127.04}},
		},
	}
	f.jobs.records["failed"] = &jobs.Record{ID: "failed", Status: jobs.StatusFailure, Error: "no transcript"}

	res, _ := f.do(t, http.MethodGet, "/api/v1/jobs/running/result", "")
	assert.Equal(t, http.StatusAccepted, res.StatusCode)

	res, body := f.do(t, http.MethodGet, "/api/v1/jobs/done/result", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Equal(t, "Seoul food tour", body["title"])
	assert.EqualValues(t, 12.5, body["processing_time"])
	require.Len(t, body["places"], 1)
	place := body["places"].([]any)[0].(map[string]any)
	assert.Equal(t, "Jungsik", place["name"])

	res, body = f.do(t, http.MethodGet, "/api/v1/jobs/failed/result", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "FAILURE", body["status"])
	assert.Equal(t, "no transcript", body["error_message"])

	res, _ = f.do(t, http.MethodGet, "/api/v1/jobs/nope/result", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestJobEvents(t *testing.T) {
	f := newFixture(t)
	f.jobs.records["job-1"] = &jobs.Record{ID: "job-1", Status: jobs.StatusProgress}
	f.jobs.updates = []jobs.Update{
		{JobID: "job-1", Status: jobs.StatusProgress, Step: "resolving_transcript", Progress: 20},
		{JobID: "job-1", Status: jobs.StatusSuccess, Step: "completed", Progress: 100},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/events", nil)
	res, err := f.server.App.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	events := strings.Split(strings.TrimSpace(string(data)), "\n\n")
	require.Len(t, events, 2)
	assert.Contains(t, events[0], `"progress":20`)
	assert.Contains(t, events[1], `"status":"SUCCESS"`)
	assert.True(t, strings.HasPrefix(events[1], "event: progress\ndata: "))
}

func TestJobEventsUnknown(t *testing.T) {
	f := newFixture(t)

	res, _ := f.do(t, http.MethodGet, "/api/v1/jobs/nope/events", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestProcess(t *testing.T) {
	f := newFixture(t)
	f.extractor.out = &pipeline.Output{
		VideoID: "abc123",
		Title:   "Seoul food tour",
		Places:  []pipeline.Place{},
		Mode:    pipeline.ModeNew,
	}

	res, body := f.do(t, http.MethodPost, "/api/v1/youtube/process", `{"url":"`+videoURL+`","user_id":9}`)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "new", body["mode"])
	assert.Equal(t, []any{}, body["places"])
	require.NotNil(t, f.extractor.userId)
	assert.EqualValues(t, 9, *f.extractor.userId)
}

func TestProcessFailure(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = errors.New("llm down")

	res, body := f.do(t, http.MethodPost, "/api/v1/youtube/process", `{"url":"`+videoURL+`"}`)

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.NotContains(t, body["message"], "llm down")

	var logged bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["url"] == videoURL {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestProcessInvalidURL(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = tube.ErrInvalidURL

	res, _ := f.do(t, http.MethodPost, "/api/v1/youtube/process", `{"url":"https://youtube.com/feed"}`)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, 0, f.extractor.processed)
}

func TestUserHistory(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	f.history.entries = []store.HistoryEntry{{
		Content: store.Content{
			ContentID:  "abc123",
			Title:      sql.NullString{String: "Seoul food tour", Valid: true},
			YoutubeUrl: sql.NullString{String: videoURL, Valid: true},
		},
		Places:    []store.Place{{PlaceID: 1, Name: "Jungsik", Lat: 37.52, Lng: 127.04}},
		CreatedAt: created,
	}}

	res, body := f.do(t, http.MethodGet, "/api/v1/users/4/history", "")

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.EqualValues(t, 4, body["user_id"])
	require.Len(t, body["history"], 1)
	item := body["history"].([]any)[0].(map[string]any)
	assert.Equal(t, "abc123", item["video_id"])
	assert.Equal(t, videoURL, item["youtube_url"])
	assert.Len(t, item["places"], 1)
}

func TestUserHistoryEmpty(t *testing.T) {
	f := newFixture(t)
	f.history.entries = []store.HistoryEntry{}

	res, body := f.do(t, http.MethodGet, "/api/v1/users/4/history", "")

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []any{}, body["history"])
}

func TestUserHistoryInvalidID(t *testing.T) {
	f := newFixture(t)

	res, _ := f.do(t, http.MethodGet, "/api/v1/users/abc/history", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = f.do(t, http.MethodGet, "/api/v1/users/0/history", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", body["status"])

	f.server.DB = fakePinger{err: errors.New("connection refused")}
	res, _ = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestRequestLogger(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/api/v1/jobs/nope/status", "")

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "/api/v1/jobs/nope/status", entry.Data["uri"])
	assert.NotEmpty(t, entry.Data["request_id"])
}

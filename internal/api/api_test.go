package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goahttp "goa.design/goa/v3/http"

	"sightline/internal/auth"
	"sightline/internal/database"
	"sightline/internal/pipeline"
	"sightline/internal/storage"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []pipeline.Job
	err  error
}

func (f *fakeSubmitter) Submit(job pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type testServer struct {
	db        *database.Database
	jobs      *fakeSubmitter
	uploadDir string
	http      *httptest.Server
}

func newTestServer(t *testing.T, authenticator *auth.Authenticator) *testServer {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	ts := &testServer{db: db, jobs: &fakeSubmitter{}, uploadDir: filepath.Join(dir, "uploads")}
	srv := New(Options{
		Catalog:   db,
		Store:     storage.NewDatabaseStore(db),
		Jobs:      ts.jobs,
		Status:    pipeline.NewStatusTracker(db),
		Auth:      authenticator,
		UploadDir: ts.uploadDir,
	})
	mux := goahttp.NewMuxer()
	srv.Mount(mux)
	ts.http = httptest.NewServer(mux)
	t.Cleanup(ts.http.Close)
	return ts
}

func (ts *testServer) upload(t *testing.T, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.http.URL+"/api/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestUploadSchedulesRun(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.upload(t, "Street.MP4", []byte("video-bytes"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body uploadResponse
	decode(t, resp, &body)
	assert.Equal(t, "Street.MP4", body.Filename)
	assert.Equal(t, "Processing started", body.Status)

	video, err := ts.db.GetVideo(context.Background(), body.ID)
	require.NoError(t, err)
	require.NotNil(t, video)
	assert.Equal(t, pipeline.VideoStatusProcessing, video.Status)
	assert.Equal(t, int64(11), video.SizeBytes)

	require.Len(t, ts.jobs.jobs, 1)
	job := ts.jobs.jobs[0]
	assert.Equal(t, body.ID, job.VideoID)
	assert.Equal(t, "Street.MP4", job.OriginalFilename)
	assert.Equal(t, ts.uploadDir, filepath.Dir(job.FilePath))
	assert.Equal(t, ".mp4", filepath.Ext(job.FilePath))

	staged, err := os.ReadFile(job.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(staged))
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.upload(t, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	decode(t, resp, &body)
	assert.Equal(t, "Unsupported file format", body.Message)

	videos, err := ts.db.ListVideos(context.Background())
	require.NoError(t, err)
	assert.Empty(t, videos)
	assert.Empty(t, ts.jobs.jobs)
}

func TestUploadFailsVideoWhenSubmitRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.jobs.err = pipeline.ErrDispatcherClosed

	resp := ts.upload(t, "clip.avi", []byte("x"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	videos, err := ts.db.ListVideos(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, pipeline.VideoStatusError, videos[0].Status)

	_, err = os.Stat(videos[0].Filepath)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestListVideosReportsProcessedCode(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	for _, status := range []pipeline.VideoStatus{pipeline.VideoStatusProcessing, pipeline.VideoStatusCompleted} {
		require.NoError(t, ts.db.CreateVideo(ctx, &database.VideoRecord{Filename: "a.mp4", Status: status}, nil))
	}

	resp := ts.get(t, "/api/videos")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []videoView
	decode(t, resp, &views)
	require.Len(t, views, 2)
	// Newest first
	assert.Equal(t, 2, views[0].Processed)
	assert.Equal(t, "completed", views[0].Status)
	assert.Equal(t, 1, views[1].Processed)
}

func TestShowVideoIncludesDetections(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	v := &database.VideoRecord{Filename: "a.mp4", Status: pipeline.VideoStatusProcessing}
	require.NoError(t, ts.db.CreateVideo(ctx, v, nil))
	box := pipeline.BoxCandidate{BBox: pipeline.BBox{X1: 1, Y1: 2, X2: 30, Y2: 40}, Confidence: 0.8}
	_, err := ts.db.WriteDetection(ctx, v.ID, 10, 0.4, []pipeline.BoxCandidate{box, box})
	require.NoError(t, err)
	_, err = ts.db.WriteDetection(ctx, v.ID, 5, 0.2, []pipeline.BoxCandidate{box})
	require.NoError(t, err)

	resp := ts.get(t, "/api/videos/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view videoDetailView
	decode(t, resp, &view)
	assert.Equal(t, v.ID, view.ID)
	require.Len(t, view.Detections, 2)
	assert.Equal(t, 5, view.Detections[0].FrameNumber)
	assert.Equal(t, 10, view.Detections[1].FrameNumber)
	assert.Equal(t, 2, view.Detections[1].ObjectCount)
	require.Len(t, view.Detections[1].BoundingBoxes, 2)
	assert.Equal(t, boxView{1, 2, 30, 40, 0.8}, view.Detections[1].BoundingBoxes[0])
}

func TestShowVideoErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/api/videos/42").StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/videos/abc").StatusCode)
}

func TestStreamVideo(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, ts.db.CreateVideo(ctx, &database.VideoRecord{Filename: "a.mp4"}, []byte("payload")))
	require.NoError(t, ts.db.CreateVideo(ctx, &database.VideoRecord{Filename: "b.mp4"}, nil))

	resp := ts.get(t, "/api/videos/1/stream")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/api/videos/2/stream").StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/api/videos/9/stream").StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, ts.get(t, "/healthz").StatusCode)
	assert.Equal(t, http.StatusOK, ts.get(t, "/readyz").StatusCode)

	require.NoError(t, ts.db.Close())
	assert.Equal(t, http.StatusServiceUnavailable, ts.get(t, "/readyz").StatusCode)
}

func TestLogin(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Options{Enabled: true, Username: "ops", Password: "pw"})
	require.NoError(t, err)
	ts := newTestServer(t, a)

	post := func(body string) *http.Response {
		resp, err := http.Post(ts.http.URL+"/api/auth/login", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post(`{"username":"ops","password":"pw"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body loginResponse
	decode(t, resp, &body)
	_, err = a.ValidateToken(body.Token)
	assert.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, post(`{"username":"ops","password":"nope"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(`{`).StatusCode)
}

func TestLoginWhenDisabled(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.http.URL+"/api/auth/login", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

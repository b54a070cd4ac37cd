// Package api serves the upload, query and subscription endpoints.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	goahttp "goa.design/goa/v3/http"
	"goa.design/goa/v3/middleware"
	goa "goa.design/goa/v3/pkg"

	"sightline/internal/auth"
	"sightline/internal/database"
	"sightline/internal/metrics"
	"sightline/internal/pipeline"
	"sightline/internal/storage"
)

// Catalog is the read side of the database used by the API
type Catalog interface {
	GetVideo(ctx context.Context, id int64) (*database.VideoRecord, error)
	ListVideos(ctx context.Context) ([]*database.VideoRecord, error)
	ListDetections(ctx context.Context, videoID int64) ([]*database.DetectionRecord, error)
	Ping(ctx context.Context) error
}

// Submitter schedules processing runs
type Submitter interface {
	Submit(job pipeline.Job) error
}

// Options wires the server's collaborators
type Options struct {
	Catalog        Catalog
	Store          storage.Store
	Jobs           Submitter
	Status         *pipeline.StatusTracker
	Auth           *auth.Authenticator // Optional
	Metrics        *metrics.Metrics    // Optional
	Subscriptions  http.Handler        // Mounted on /ws/{video_id} when set
	UploadDir      string
	MaxUploadBytes int64
	Logger         *log.Logger
}

// MountPoint describes a mounted endpoint
type MountPoint struct {
	Method  string
	Verb    string
	Pattern string
}

// Server exposes the HTTP API on a goa muxer
type Server struct {
	opts   Options
	mux    goahttp.Muxer
	logger *log.Logger
	Mounts []*MountPoint
}

// New creates a server from opts
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 512 << 20
	}
	return &Server{opts: opts, logger: logger}
}

// Mount registers every endpoint on mux
func (s *Server) Mount(mux goahttp.Muxer) {
	s.mux = mux

	s.handle("Upload", "POST", "/api/upload", s.upload)
	s.handle("ListVideos", "GET", "/api/videos", s.listVideos)
	s.handle("ShowVideo", "GET", "/api/videos/{id}", s.showVideo)
	s.handle("StreamVideo", "GET", "/api/videos/{id}/stream", s.streamVideo)
	s.handle("Login", "POST", "/api/auth/login", s.login)
	s.handle("Healthz", "GET", "/healthz", s.healthz)
	s.handle("Readyz", "GET", "/readyz", s.readyz)
	if s.opts.Metrics != nil {
		s.handle("Metrics", "GET", "/metrics", s.opts.Metrics.Handler().ServeHTTP)
	}
	if s.opts.Subscriptions != nil {
		s.handle("Subscribe", "GET", "/ws/{video_id}", s.opts.Subscriptions.ServeHTTP)
	}
}

func (s *Server) handle(method, verb, pattern string, h http.HandlerFunc) {
	s.mux.Handle(verb, pattern, h)
	s.Mounts = append(s.Mounts, &MountPoint{Method: method, Verb: verb, Pattern: pattern})
}

func (s *Server) pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(s.mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, goa.PermanentError("bad_request", "invalid %s", name)
	}
	return id, nil
}

// respond writes v with the encoder negotiated from the request
func (s *Server) respond(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		s.logger.Printf("[API] failed to encode response: %v", err)
	}
}

// errorBody mirrors goa's default error response
type errorBody struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	Message   string `json:"message"`
	Temporary bool   `json:"temporary"`
	Timeout   bool   `json:"timeout"`
	Fault     bool   `json:"fault"`
}

var statusByName = map[string]int{
	"bad_request":       http.StatusBadRequest,
	"unauthorized":      http.StatusUnauthorized,
	"not_found":         http.StatusNotFound,
	"request_too_large": http.StatusRequestEntityTooLarge,
	"unavailable":       http.StatusServiceUnavailable,
}

// fail encodes err; anything that is not a goa service error becomes a fault
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	var serr *goa.ServiceError
	if !errors.As(err, &serr) {
		serr = goa.Fault("%s", err.Error())
	}

	status, ok := statusByName[serr.Name]
	if !ok || serr.Fault {
		status = http.StatusInternalServerError
	}

	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("[%s] ERROR: %s", id, err.Error())
	}

	s.respond(ctx, w, status, &errorBody{
		Name:      serr.Name,
		ID:        id,
		Message:   serr.Message,
		Temporary: serr.Temporary,
		Timeout:   serr.Timeout,
		Fault:     serr.Fault,
	})
}

func notFound(format string, args ...any) error {
	return goa.PermanentError("not_found", format, args...)
}

func badRequest(format string, args ...any) error {
	return goa.PermanentError("bad_request", format, args...)
}

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	goa "goa.design/goa/v3/pkg"

	"sightline/internal/database"
	"sightline/internal/pipeline"
)

var allowedExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
}

type uploadResponse struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// upload stages the file, records the video as processing and schedules a run
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.opts.Metrics.Upload("rejected")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(ctx, w, goa.PermanentError("request_too_large", "upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.fail(ctx, w, badRequest("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		s.opts.Metrics.Upload("rejected")
		s.fail(ctx, w, badRequest("Unsupported file format"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.opts.Metrics.Upload("rejected")
		s.fail(ctx, w, badRequest("failed to read upload: %v", err))
		return
	}

	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		s.opts.Metrics.Upload("error")
		s.fail(ctx, w, fmt.Errorf("failed to create upload dir: %w", err))
		return
	}
	staged := filepath.Join(s.opts.UploadDir, uuid.NewString()+ext)
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		s.opts.Metrics.Upload("error")
		s.fail(ctx, w, fmt.Errorf("failed to stage upload: %w", err))
		return
	}

	video := &database.VideoRecord{
		Filename: header.Filename,
		Filepath: staged,
		Status:   pipeline.VideoStatusProcessing,
	}
	if err := s.opts.Store.Put(ctx, video, data); err != nil {
		os.Remove(staged)
		s.opts.Metrics.Upload("error")
		s.fail(ctx, w, fmt.Errorf("failed to store video: %w", err))
		return
	}

	job := pipeline.Job{FilePath: staged, VideoID: video.ID, OriginalFilename: header.Filename}
	if err := s.opts.Jobs.Submit(job); err != nil {
		// No run will own the staged file or the status
		os.Remove(staged)
		if ferr := s.opts.Status.Fail(ctx, video.ID, err); ferr != nil {
			s.logger.Printf("[API] failed to mark video %d as error: %v", video.ID, ferr)
		}
		s.opts.Metrics.Upload("error")
		s.fail(ctx, w, goa.TemporaryError("unavailable", "processing is not accepting new videos"))
		return
	}

	s.logger.Printf("[API] accepted %s as video %d (%d bytes, %s store)", header.Filename, video.ID, len(data), s.opts.Store.Name())
	s.opts.Metrics.Upload("accepted")
	s.respond(ctx, w, http.StatusOK, &uploadResponse{
		ID:       video.ID,
		Filename: header.Filename,
		Status:   "Processing started",
	})
}

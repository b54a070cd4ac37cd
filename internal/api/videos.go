package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"sightline/internal/pipeline"
	"sightline/internal/storage"
)

type videoView struct {
	ID             int64     `json:"id"`
	Filename       string    `json:"filename"`
	UploadDate     time.Time `json:"upload_date"`
	Status         string    `json:"status"`
	Processed      int       `json:"processed"`
	DetectionCount int       `json:"detection_count"`
}

type boxView struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
}

type detectionView struct {
	FrameNumber   int       `json:"frame_number"`
	Timestamp     float64   `json:"timestamp"`
	ObjectCount   int       `json:"object_count"`
	BoundingBoxes []boxView `json:"bounding_boxes"`
}

type videoDetailView struct {
	videoView
	Detections []detectionView `json:"detections"`
}

func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	videos, err := s.opts.Catalog.ListVideos(ctx)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	views := make([]videoView, 0, len(videos))
	for _, v := range videos {
		views = append(views, videoView{
			ID:             v.ID,
			Filename:       v.Filename,
			UploadDate:     v.UploadDate,
			Status:         string(v.Status),
			Processed:      v.Status.Code(),
			DetectionCount: v.DetectionCount,
		})
	}
	s.respond(ctx, w, http.StatusOK, views)
}

func (s *Server) showVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := s.pathID(r, "id")
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	video, err := s.opts.Catalog.GetVideo(ctx, id)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	if video == nil {
		s.fail(ctx, w, notFound("Video not found"))
		return
	}

	detections, err := s.opts.Catalog.ListDetections(ctx, id)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	view := videoDetailView{
		videoView: videoView{
			ID:             video.ID,
			Filename:       video.Filename,
			UploadDate:     video.UploadDate,
			Status:         string(video.Status),
			Processed:      video.Status.Code(),
			DetectionCount: len(detections),
		},
		Detections: make([]detectionView, 0, len(detections)),
	}
	for _, det := range detections {
		dv := detectionView{
			FrameNumber:   det.FrameNumber,
			Timestamp:     det.Timestamp,
			ObjectCount:   det.ObjectCount,
			BoundingBoxes: make([]boxView, 0, len(det.BoundingBoxes)),
		}
		for _, b := range det.BoundingBoxes {
			dv.BoundingBoxes = append(dv.BoundingBoxes, boxView{b.X1, b.Y1, b.X2, b.Y2, b.Confidence})
		}
		view.Detections = append(view.Detections, dv)
	}
	s.respond(ctx, w, http.StatusOK, &view)
}

func (s *Server) streamVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := s.pathID(r, "id")
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	video, err := s.opts.Catalog.GetVideo(ctx, id)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	if video == nil {
		s.fail(ctx, w, notFound("Video not found or empty"))
		return
	}

	body, size, err := s.opts.Store.Open(ctx, video)
	if errors.Is(err, storage.ErrEmpty) || errors.Is(err, pipeline.ErrVideoNotFound) {
		s.fail(ctx, w, notFound("Video not found or empty"))
		return
	}
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "video/mp4")
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Printf("[API] stream of video %d interrupted: %v", id, err)
	}
}

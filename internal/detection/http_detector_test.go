package detection

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDetectorDetect(t *testing.T) {
	var gotImage []byte
	var gotThreshold string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/detect", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))
		gotImage, _ = io.ReadAll(f)
		gotThreshold = r.FormValue("conf_threshold")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"detections": [
			{"class": "person", "class_id": 0, "confidence": 0.91, "bbox": [10, 20, 110, 220]},
			{"class": "car", "class_id": 2, "confidence": 0.55, "bbox": [300, 40, 400, 90]}
		], "count": 2, "inference_time_ms": 12.5, "device": "cpu"}`)
	}))
	defer srv.Close()

	d := NewHTTPDetector(HTTPDetectorConfig{Endpoint: srv.URL + "/", ConfThreshold: 0.3})
	objects, err := d.Detect(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xD9})
	require.NoError(t, err)

	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xD9}, gotImage)
	assert.Equal(t, "0.30", gotThreshold)
	assert.Equal(t, []Object{
		{Class: "person", ClassID: 0, Confidence: 0.91, X1: 10, Y1: 20, X2: 110, Y2: 220},
		{Class: "car", ClassID: 2, Confidence: 0.55, X1: 300, Y1: 40, X2: 400, Y2: 90},
	}, objects)
}

func TestHTTPDetectorErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"detections": [`)
		},
		"short bbox": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"detections": [{"class_id": 0, "confidence": 0.9, "bbox": [1, 2, 3]}]}`)
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			_, err := NewHTTPDetector(HTTPDetectorConfig{Endpoint: srv.URL}).Detect(context.Background(), []byte{1})
			assert.Error(t, err)
		})
	}
}

func TestHTTPDetectorHealth(t *testing.T) {
	status := http.StatusOK
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))
	defer srv.Close()

	d := NewHTTPDetector(HTTPDetectorConfig{Endpoint: srv.URL})
	assert.True(t, d.IsHealthy(context.Background()))
	assert.True(t, d.IsHealthy(context.Background()))
	assert.Equal(t, 1, calls, "healthy result is cached")

	d.markUnhealthy()
	status = http.StatusInternalServerError
	assert.False(t, d.IsHealthy(context.Background()))
	assert.Equal(t, 2, calls)
}

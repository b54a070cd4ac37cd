package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"
)

const healthCacheTTL = 30 * time.Second

// HTTPDetector talks to a YOLO inference service over multipart HTTP
type HTTPDetector struct {
	endpoint      string
	client        *http.Client
	confThreshold float64

	mu          sync.Mutex
	healthy     bool
	healthCheck time.Time
}

// HTTPDetectorConfig holds configuration for the HTTP detector
type HTTPDetectorConfig struct {
	Endpoint      string        // Base URL, e.g. http://yolo:8081
	Timeout       time.Duration // Per-request timeout
	ConfThreshold float64       // Hint sent to the service as conf_threshold
}

// detectResponse is the JSON body returned by POST /detect
type detectResponse struct {
	Detections []struct {
		Class      string    `json:"class"`
		ClassID    int       `json:"class_id"`
		Confidence float64   `json:"confidence"`
		BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
	} `json:"detections"`
	Count           int     `json:"count"`
	InferenceTimeMs float32 `json:"inference_time_ms"`
	Device          string  `json:"device"`
}

// NewHTTPDetector creates a new HTTP object detector
func NewHTTPDetector(config HTTPDetectorConfig) *HTTPDetector {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDetector{
		endpoint:      strings.TrimRight(config.Endpoint, "/"),
		client:        &http.Client{Timeout: timeout},
		confThreshold: config.ConfThreshold,
	}
}

var _ ObjectDetector = (*HTTPDetector)(nil)

// IsHealthy checks if the detection service is available
func (d *HTTPDetector) IsHealthy(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Cache successful health checks for 30 seconds
	if d.healthy && time.Since(d.healthCheck) < healthCacheTTL {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/health", nil)
	if err != nil {
		d.healthy = false
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("[HTTPDetector] Health check failed: %v", err)
		d.healthy = false
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[HTTPDetector] Health check returned status %d", resp.StatusCode)
		d.healthy = false
		return false
	}

	d.healthy = true
	d.healthCheck = time.Now()
	return true
}

// Detect posts the image to /detect and returns the parsed objects
func (d *HTTPDetector) Detect(ctx context.Context, image []byte) ([]Object, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.2f", d.confThreshold)); err != nil {
		return nil, fmt.Errorf("failed to write conf_threshold: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		d.markUnhealthy()
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("detection failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	objects := make([]Object, 0, len(result.Detections))
	for _, det := range result.Detections {
		obj, err := objectFromBBox(det.Class, det.ClassID, det.Confidence, det.BBox)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func (d *HTTPDetector) markUnhealthy() {
	d.mu.Lock()
	d.healthy = false
	d.mu.Unlock()
}

// Close releases idle connections
func (d *HTTPDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

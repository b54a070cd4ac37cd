package detection

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCDetector provides gRPC-based object detection
type GRPCDetector struct {
	endpoint      string
	conn          *grpc.ClientConn
	health        healthpb.HealthClient
	confThreshold float64

	healthMu   sync.Mutex
	healthy    bool
	lastHealth time.Time
}

// GRPCDetectorConfig holds configuration for the gRPC detector
type GRPCDetectorConfig struct {
	Endpoint      string
	ConfThreshold float64
	DialOptions   []grpc.DialOption // Appended to the defaults
}

// NewGRPCDetector creates a new gRPC-based detector. The connection is
// established lazily on the first call.
func NewGRPCDetector(config GRPCDetectorConfig) (*GRPCDetector, error) {
	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}
	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", config.Endpoint, err)
	}

	log.Printf("[GRPCDetector] Using detection service at %s", config.Endpoint)
	return &GRPCDetector{
		endpoint:      config.Endpoint,
		conn:          conn,
		health:        healthpb.NewHealthClient(conn),
		confThreshold: config.ConfThreshold,
	}, nil
}

var _ ObjectDetector = (*GRPCDetector)(nil)

// IsHealthy queries the standard gRPC health service
func (gd *GRPCDetector) IsHealthy(ctx context.Context) bool {
	gd.healthMu.Lock()
	defer gd.healthMu.Unlock()

	if gd.healthy && time.Since(gd.lastHealth) < healthCacheTTL {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := gd.health.Check(ctx, &healthpb.HealthCheckRequest{Service: DetectionServiceName})
	if err != nil {
		log.Printf("[GRPCDetector] Health check failed: %v", err)
		gd.healthy = false
		return false
	}

	gd.healthy = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	if gd.healthy {
		gd.lastHealth = time.Now()
	}
	return gd.healthy
}

// Detect sends one frame and waits for the detections
func (gd *GRPCDetector) Detect(ctx context.Context, image []byte) ([]Object, error) {
	req, err := structpb.NewStruct(map[string]any{
		"image":          image,
		"conf_threshold": gd.confThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp := new(structpb.Struct)
	if err := gd.conn.Invoke(ctx, detectMethod, req, resp); err != nil {
		gd.healthMu.Lock()
		gd.healthy = false
		gd.healthMu.Unlock()
		return nil, fmt.Errorf("detect RPC failed: %w", err)
	}

	return parseStructDetections(resp)
}

// parseStructDetections reads the detections list from a response struct
func parseStructDetections(resp *structpb.Struct) ([]Object, error) {
	list := resp.GetFields()["detections"].GetListValue()
	if list == nil {
		return nil, nil
	}

	objects := make([]Object, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("malformed detection %d: not an object", i)
		}

		var bbox []float64
		for _, c := range fields["bbox"].GetListValue().GetValues() {
			bbox = append(bbox, c.GetNumberValue())
		}
		obj, err := objectFromBBox(
			fields["class"].GetStringValue(),
			int(fields["class_id"].GetNumberValue()),
			fields["confidence"].GetNumberValue(),
			bbox,
		)
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// Close closes the gRPC connection
func (gd *GRPCDetector) Close() error {
	if gd.conn != nil {
		return gd.conn.Close()
	}
	return nil
}

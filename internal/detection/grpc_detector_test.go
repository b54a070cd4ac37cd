package detection

import (
	"context"
	"encoding/base64"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubDetectionServer struct {
	lastImage     []byte
	lastThreshold float64
	response      map[string]any
}

func (s *stubDetectionServer) Detect(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	s.lastImage, _ = base64.StdEncoding.DecodeString(fields["image"].GetStringValue())
	s.lastThreshold = fields["conf_threshold"].GetNumberValue()
	return structpb.NewStruct(s.response)
}

func startBufServer(t *testing.T, stub *stubDetectionServer, status healthpb.HealthCheckResponse_ServingStatus) *GRPCDetector {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterDetectionServer(srv, stub)
	hs := health.NewServer()
	hs.SetServingStatus(DetectionServiceName, status)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	d, err := NewGRPCDetector(GRPCDetectorConfig{
		Endpoint:      "passthrough:///bufnet",
		ConfThreshold: 0.25,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestGRPCDetectorDetect(t *testing.T) {
	stub := &stubDetectionServer{response: map[string]any{
		"detections": []any{
			map[string]any{"class": "person", "class_id": 0, "confidence": 0.8, "bbox": []any{1, 2, 30, 40}},
		},
	}}
	d := startBufServer(t, stub, healthpb.HealthCheckResponse_SERVING)

	objects, err := d.Detect(context.Background(), []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9})
	require.NoError(t, err)
	assert.Equal(t, []Object{{Class: "person", ClassID: 0, Confidence: 0.8, X1: 1, Y1: 2, X2: 30, Y2: 40}}, objects)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}, stub.lastImage)
	assert.Equal(t, 0.25, stub.lastThreshold)
	assert.True(t, d.IsHealthy(context.Background()))
}

func TestGRPCDetectorMalformedResponse(t *testing.T) {
	stub := &stubDetectionServer{response: map[string]any{
		"detections": []any{map[string]any{"class_id": 0, "confidence": 0.8, "bbox": []any{1, 2}}},
	}}
	d := startBufServer(t, stub, healthpb.HealthCheckResponse_SERVING)

	_, err := d.Detect(context.Background(), []byte{1})
	assert.Error(t, err)
}

func TestGRPCDetectorNotServing(t *testing.T) {
	d := startBufServer(t, &stubDetectionServer{}, healthpb.HealthCheckResponse_NOT_SERVING)
	assert.False(t, d.IsHealthy(context.Background()))
}

package detection

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// DetectionServiceName is the fully qualified gRPC service name
	DetectionServiceName = "sightline.detection.v1.DetectionService"
	detectMethod         = "/" + DetectionServiceName + "/Detect"
)

// DetectionServer is implemented by in-process gRPC detection backends.
//
// Requests carry {"image": <base64 JPEG>, "conf_threshold": <number>};
// responses carry {"detections": [{"class", "class_id", "confidence", "bbox"}]}.
type DetectionServer interface {
	Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterDetectionServer registers srv with a gRPC server
func RegisterDetectionServer(s grpc.ServiceRegistrar, srv DetectionServer) {
	s.RegisterService(&detectionServiceDesc, srv)
}

func detectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectionServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: detectMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectionServer).Detect(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var detectionServiceDesc = grpc.ServiceDesc{
	ServiceName: DetectionServiceName,
	HandlerType: (*DetectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Detect",
			Handler:    detectHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sightline/detection/v1/detection.proto",
}

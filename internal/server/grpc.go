package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"mtdguard/internal/telemetry"
)

const analyzerServiceName = "mtdguard.v1.Analyzer"

// AnalyzerServer is the gRPC surface of the analyzer. Payloads are
// structpb.Struct values with the same field names as the HTTP API.
type AnalyzerServer interface {
	AnalyzeSms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AnalyzeApp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AnalyzeCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type analyzerMethod func(AnalyzerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call analyzerMethod) grpc.MethodDesc {
	fullMethod := "/" + analyzerServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AnalyzerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AnalyzerServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var analyzerServiceDesc = grpc.ServiceDesc{
	ServiceName: analyzerServiceName,
	HandlerType: (*AnalyzerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("AnalyzeSms", AnalyzerServer.AnalyzeSms),
		unaryHandler("AnalyzeApp", AnalyzerServer.AnalyzeApp),
		unaryHandler("AnalyzeCall", AnalyzerServer.AnalyzeCall),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mtdguard/v1/analyzer",
}

func newGRPCServer(s *Server) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary))
	srv.RegisterService(&analyzerServiceDesc, &analyzerService{srv: s})

	hs := health.NewServer()
	hs.SetServingStatus(analyzerServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	slog.Debug("grpc call", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
	return resp, err
}

type analyzerService struct {
	srv *Server
}

func (a *analyzerService) AnalyzeSms(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var ev telemetry.SmsEvent
	device, err := a.admit(ctx, in, &ev)
	if err != nil {
		return nil, err
	}
	ev.DeviceID = device
	ev.ID = ensureID(ev.ID)
	if err := telemetry.Validate(ev); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return toStruct(a.srv.analyzer.AnalyzeSms(ctx, ev))
}

func (a *analyzerService) AnalyzeApp(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var ev telemetry.AppInstallEvent
	device, err := a.admit(ctx, in, &ev)
	if err != nil {
		return nil, err
	}
	ev.DeviceID = device
	ev.ID = ensureID(ev.ID)
	if err := telemetry.Validate(ev); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return toStruct(a.srv.analyzer.AnalyzeApp(ctx, ev))
}

func (a *analyzerService) AnalyzeCall(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var ev telemetry.CallEvent
	device, err := a.admit(ctx, in, &ev)
	if err != nil {
		return nil, err
	}
	ev.DeviceID = device
	ev.ID = ensureID(ev.ID)
	if err := telemetry.Validate(ev); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return toStruct(a.srv.analyzer.AnalyzeCall(ctx, ev))
}

// admit decodes in into ev and resolves the device from the x-device-id
// metadata, falling back to the payload's device_id field.
func (a *analyzerService) admit(ctx context.Context, in *structpb.Struct, ev any) (string, error) {
	if err := fromStruct(in, ev); err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}

	device := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-device-id"); len(v) > 0 {
			device = v[0]
		}
	}
	if device == "" {
		device = in.GetFields()["device_id"].GetStringValue()
	}
	if device == "" {
		return "", status.Error(codes.InvalidArgument, errMissingDevice.Error())
	}
	if !a.srv.limiter.Allow(device) {
		return "", status.Errorf(codes.ResourceExhausted, "rate limit exceeded for device %s", device)
	}
	return device, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

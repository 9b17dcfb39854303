package server

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func dialBufconn(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.ServeGRPC(lis) }()
	t.Cleanup(s.grpcSrv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+analyzerServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPCAnalyzeApp(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialBufconn(t, s)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-device-id", "dev-9")

	out, err := invoke(ctx, conn, "AnalyzeApp", map[string]any{
		"package_name": "com.fake.bank",
		"permissions":  []any{"READ_SMS", "INTERNET"},
	})
	require.NoError(t, err)

	fields := out.GetFields()
	assert.Equal(t, "critical", fields["threat_level"].GetStringValue())
	assert.Equal(t, "block", fields["action"].GetStringValue())
	assert.Equal(t, "dev-9", fields["device_id"].GetStringValue())
	assert.NotEmpty(t, fields["explanation"].GetStringValue())
	assert.Len(t, fields["indicators"].GetListValue().GetValues(), 1)
}

func TestGRPCAnalyzeSmsAndCall(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialBufconn(t, s)
	ctx := context.Background()

	out, err := invoke(ctx, conn, "AnalyzeSms", map[string]any{
		"device_id":      "dev-3",
		"sender_hash":    "s1",
		"extracted_urls": []any{"https://example.com/login"},
		"message_length": 120,
	})
	require.NoError(t, err)
	assert.Equal(t, "sms", out.GetFields()["kind"].GetStringValue())
	assert.InDelta(t, 0.3, out.GetFields()["risk_score"].GetNumberValue(), 1e-9)

	out, err = invoke(ctx, conn, "AnalyzeCall", map[string]any{
		"device_id":   "dev-3",
		"caller_hash": "c1",
		"call_type":   "missed",
	})
	require.NoError(t, err)
	assert.Equal(t, "safe", out.GetFields()["threat_level"].GetStringValue())
	assert.Equal(t, "allow", out.GetFields()["action"].GetStringValue())
}

func TestGRPCErrors(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})
	conn := dialBufconn(t, s)
	ctx := context.Background()

	_, err := invoke(ctx, conn, "AnalyzeCall", map[string]any{"caller_hash": "c1", "call_type": "incoming"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(ctx, conn, "AnalyzeCall", map[string]any{"device_id": "d", "call_type": "incoming"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(ctx, conn, "AnalyzeCall", map[string]any{"device_id": "d", "caller_hash": "c", "call_type": "incoming"})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestGRPCHealth(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialBufconn(t, s)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: analyzerServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

package processor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bladealex9848/expert-nexus/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type echoAssistant struct {
	last *structpb.Struct
}

func (e *echoAssistant) Process(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	e.last = in
	msg := in.GetFields()["message"].GetStringValue()
	if msg == "fail" {
		return structpb.NewStruct(map[string]any{"error": "assistant run failed"})
	}
	return structpb.NewStruct(map[string]any{
		"reply": in.GetFields()["assistant_id"].GetStringValue() + ": " + msg,
	})
}

func startAssistant(t *testing.T) (*GRPCClient, *echoAssistant) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	impl := &echoAssistant{}
	RegisterAssistantServer(srv, impl)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultGRPCConfig("passthrough:///bufnet")
	cfg.ConnectTimeout = 2 * time.Second
	client, err := NewGRPCClient(cfg, quietLogger,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, impl
}

func TestGRPCClientProcess(t *testing.T) {
	client, impl := startAssistant(t)
	ctx := context.Background()

	req := Request{
		SessionKey: "anon_1:tab",
		Text:       "tengo una tutela pendiente",
		Expert:     tutela,
		History: []domain.Message{
			domain.NewMessage(domain.RoleUser, "hola", "asistente_virtual", time.Now()),
		},
	}
	got, err := client.Process(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "asst_tutela: tengo una tutela pendiente", got)

	fields := impl.last.GetFields()
	assert.Equal(t, "tutela", fields["expert"].GetStringValue())
	assert.Equal(t, "anon_1:tab", fields["session_key"].GetStringValue())
	assert.Len(t, fields["history"].GetListValue().GetValues(), 1)
}

func TestGRPCClientBackendError(t *testing.T) {
	client, _ := startAssistant(t)

	_, err := client.Process(context.Background(), Request{Text: "fail", Expert: tutela})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBackendReply)
}

func TestGRPCClientHealth(t *testing.T) {
	client, _ := startAssistant(t)
	assert.NoError(t, client.Health(context.Background()))
}

func TestNewGRPCClientRequiresAddress(t *testing.T) {
	t.Parallel()
	_, err := NewGRPCClient(GRPCConfig{}, quietLogger)
	assert.Error(t, err)
}

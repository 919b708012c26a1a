package grpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthServer_ReflectsServingState(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hs := NewHealthServer(logger)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = hs.Server.Serve(lis) }()
	defer hs.Shutdown()

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(JobQueueService))

	hs.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(JobQueueService), "job queue waits for the manager")

	hs.SetJobsServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(JobQueueService))
	hs.SetJobsServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(JobQueueService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
}

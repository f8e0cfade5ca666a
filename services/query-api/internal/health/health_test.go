package health

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func TestHealthFollowsDatabase(t *testing.T) {
	r := require.New(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	pinger := &fakePinger{err: errors.New("down")}
	c := NewChecker(pinger, time.Second, logger)

	lis := bufconn.Listen(1 << 20)
	go c.Serve(lis)
	defer c.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	r.NoError(err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	r.False(c.Check(ctx))
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	r.NoError(err)
	r.Equal(healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	pinger.err = nil
	r.True(c.Check(ctx))
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	r.NoError(err)
	r.Equal(healthpb.HealthCheckResponse_SERVING, resp.Status)
}

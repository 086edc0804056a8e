package ingest

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rishi925-eng/Vital-Trace/internal/alerter"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

func dialBufconn(t *testing.T, eval Evaluator) *IngestClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(eval, zerolog.Nop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewIngestClient(conn)
}

func TestGRPCSubmitReading(t *testing.T) {
	client := dialBufconn(t, newFakeEvaluator())

	resp, err := client.SubmitReading(context.Background(), &types.Reading{
		DeviceID:    "D1",
		Temperature: types.Float64(16),
	})
	require.NoError(t, err)
	require.Len(t, resp.Created, 1)
	assert.Equal(t, "A-D1", resp.Created[0].ID)
	assert.Equal(t, types.TemperatureCritical, resp.Created[0].RuleKind)
	assert.Empty(t, resp.Errors)
}

func TestGRPCSubmitReadingRequiresDevice(t *testing.T) {
	client := dialBufconn(t, newFakeEvaluator())

	_, err := client.SubmitReading(context.Background(), &types.Reading{Temperature: types.Float64(4)})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

type partialEvaluator struct{}

func (partialEvaluator) Evaluate(_ context.Context, r types.Reading) (alerter.Outcome, error) {
	failure := errors.New("check active D1/temperature_high: connection reset")
	return alerter.Outcome{
		Created: []types.Alert{{ID: "A1", DeviceID: r.DeviceID, RuleKind: types.BatteryCritical}},
		Errors:  []error{failure},
	}, failure
}

func TestGRPCSubmitReadingPartialFailure(t *testing.T) {
	client := dialBufconn(t, partialEvaluator{})

	resp, err := client.SubmitReading(context.Background(), &types.Reading{DeviceID: "D1"})
	require.NoError(t, err)
	assert.Len(t, resp.Created, 1)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "connection reset")
}

type panickingEvaluator struct{}

func (panickingEvaluator) Evaluate(context.Context, types.Reading) (alerter.Outcome, error) {
	panic("evaluator bug")
}

func TestGRPCRecoversPanics(t *testing.T) {
	client := dialBufconn(t, panickingEvaluator{})

	_, err := client.SubmitReading(context.Background(), &types.Reading{DeviceID: "D1"})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

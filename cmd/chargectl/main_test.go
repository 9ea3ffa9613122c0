package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"chargeline/internal/charge"
	"chargeline/internal/lazy"
	"chargeline/internal/model"
	"chargeline/internal/service"
	"chargeline/internal/storage/redisstore"
	transportGRPC "chargeline/internal/transport/grpc"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func newClient(t *testing.T) *transportGRPC.Client {
	t.Helper()
	logger := zaptest.NewLogger(t)

	mr := miniredis.RunT(t)
	handle := lazy.New(func(ctx context.Context) (*redis.Client, error) {
		return redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil
	}, (*redis.Client).Close)
	t.Cleanup(func() { _ = handle.Close() })

	engine := charge.NewTxEngine(redisstore.New(handle),
		charge.WithPreCommitHook(charge.SentinelDelay("foobar", 200*time.Millisecond, logger)),
	)
	services := map[string]service.ChargeService{
		"redis": service.NewCharges("redis", engine, nil, nil, logger),
	}

	lis := bufconn.Listen(1 << 20)
	srv := transportGRPC.NewServer("bufnet", services, nil, logger)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	conn, err := transportGRPC.Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return transportGRPC.NewClient(conn)
}

func decodeResults(t *testing.T, out string) []model.ChargeResult {
	t.Helper()
	var results []model.ChargeResult
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var res model.ChargeResult
		require.NoError(t, json.Unmarshal([]byte(line), &res))
		results = append(results, res)
	}
	return results
}

func TestRun_ResetOnly(t *testing.T) {
	client := newClient(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), client, options{backend: "redis", reset: true}, &out))
	assert.JSONEq(t, `{"balance":100}`, out.String())
}

func TestRun_ConcurrentDebits(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	var reset bytes.Buffer
	require.NoError(t, run(ctx, client, options{backend: "redis", reset: true}, &reset))

	var out bytes.Buffer
	err := run(ctx, client, options{backend: "redis", unit: 100, delay: "foobar", parallel: 2}, &out)
	require.NoError(t, err)

	assert.ElementsMatch(t, []model.ChargeResult{
		{RemainingBalance: 0, IsAuthorized: true, Charges: 100},
		{RemainingBalance: 100, IsAuthorized: false, Charges: 0},
	}, decodeResults(t, out.String()))
}

func TestRun_UnknownBackend(t *testing.T) {
	client := newClient(t)
	var out bytes.Buffer

	err := run(context.Background(), client, options{backend: "etcd", unit: 1, parallel: 1}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debit etcd")
	assert.Empty(t, out.String())
}

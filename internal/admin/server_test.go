package admin_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cory-johannsen/gamehost/internal/admin"
	"github.com/cory-johannsen/gamehost/internal/game"
	"github.com/cory-johannsen/gamehost/internal/session"
)

type staticSnapshot []session.ManagerSnapshot

func (s staticSnapshot) Snapshot() []session.ManagerSnapshot { return s }

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func dial(t *testing.T, src admin.Snapshotter) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := admin.NewServer("", src, func() time.Time { return epoch }, zaptest.NewLogger(t))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

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

func TestSnapshot_ReportsManagersAndSessions(t *testing.T) {
	src := staticSnapshot{
		{
			Community: "c1",
			State:     session.StateActive,
			Sessions: []game.Stats{{
				ID:             "s-1",
				Community:      "c1",
				Room:           "r1",
				Host:           "alice",
				Ref:            "guess",
				Title:          "Guess the Number",
				StartedAt:      epoch.Add(-90 * time.Second),
				LastActivityAt: epoch.Add(-30 * time.Second),
				Idle:           30 * time.Second,
				Total:          90 * time.Second,
			}},
		},
		{Community: "c2", State: session.StateIdle, IdleSince: epoch.Add(-time.Minute)},
	}
	client := admin.NewDiagnosticsClient(dial(t, src))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := client.Snapshot(ctx)
	require.NoError(t, err)

	m := got.AsMap()
	assert.Equal(t, "2026-01-02T03:04:05Z", m["generated_at"])
	assert.Equal(t, float64(2), m["manager_count"])
	assert.Equal(t, float64(1), m["session_count"])

	managers := m["managers"].([]any)
	require.Len(t, managers, 2)
	first := managers[0].(map[string]any)
	assert.Equal(t, "c1", first["community"])
	assert.Equal(t, "active", first["state"])
	assert.NotContains(t, first, "idle_since")

	sessions := first["sessions"].([]any)
	require.Len(t, sessions, 1)
	s := sessions[0].(map[string]any)
	assert.Equal(t, "s-1", s["id"])
	assert.Equal(t, "guess", s["ref"])
	assert.Equal(t, "Guess the Number", s["title"])
	assert.Equal(t, "r1", s["room"])
	assert.Equal(t, "alice", s["host"])
	assert.Equal(t, "2026-01-02T03:02:35Z", s["started_at"])
	assert.Equal(t, float64(30), s["idle_seconds"])
	assert.Equal(t, float64(90), s["total_seconds"])

	second := managers[1].(map[string]any)
	assert.Equal(t, "idle", second["state"])
	assert.Equal(t, "2026-01-02T03:03:05Z", second["idle_since"])
	assert.Empty(t, second["sessions"])
}

func TestSnapshot_Empty(t *testing.T) {
	client := admin.NewDiagnosticsClient(dial(t, staticSnapshot{}))
	got, err := client.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(0), got.AsMap()["manager_count"])
	assert.Empty(t, got.AsMap()["managers"])
}

func TestHealth_Serving(t *testing.T) {
	hc := healthpb.NewHealthClient(dial(t, staticSnapshot{}))
	for _, svc := range []string{"", admin.ServiceName} {
		resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	}
}

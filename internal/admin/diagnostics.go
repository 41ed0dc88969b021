// Package admin serves read-only diagnostics over gRPC.
package admin

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/gamehost/internal/game"
	"github.com/cory-johannsen/gamehost/internal/session"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "gamehost.admin.v1.Diagnostics"

// SnapshotMethod is the full method path of the Snapshot RPC.
const SnapshotMethod = "/" + ServiceName + "/Snapshot"

// DiagnosticsServer is the server API for the Diagnostics service.
type DiagnosticsServer interface {
	Snapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Diagnostics_ServiceDesc describes the Diagnostics service. The messages are
// well-known protobuf types so no generated code is needed.
var Diagnostics_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DiagnosticsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Snapshot",
			Handler:    snapshotHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gamehost/admin/v1/diagnostics.proto",
}

// RegisterDiagnosticsServer registers srv with s.
func RegisterDiagnosticsServer(s grpc.ServiceRegistrar, srv DiagnosticsServer) {
	s.RegisterService(&Diagnostics_ServiceDesc, srv)
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DiagnosticsServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SnapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DiagnosticsServer).Snapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// DiagnosticsClient calls the Diagnostics service.
type DiagnosticsClient struct {
	cc grpc.ClientConnInterface
}

// NewDiagnosticsClient creates a client over cc.
func NewDiagnosticsClient(cc grpc.ClientConnInterface) *DiagnosticsClient {
	return &DiagnosticsClient{cc: cc}
}

// Snapshot fetches the current manager and session state.
func (c *DiagnosticsClient) Snapshot(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SnapshotMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshotter reports manager state.
type Snapshotter interface {
	Snapshot() []session.ManagerSnapshot
}

type diagnostics struct {
	source Snapshotter
	now    func() time.Time
}

func (d *diagnostics) Snapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	managers := []any{}
	sessions := 0
	for _, m := range d.source.Snapshot() {
		entry := map[string]any{
			"community": m.Community,
			"state":     m.State.String(),
			"sessions":  sessionsValue(m.Sessions),
		}
		if !m.IdleSince.IsZero() {
			entry["idle_since"] = formatTime(m.IdleSince)
		}
		sessions += len(m.Sessions)
		managers = append(managers, entry)
	}
	return structpb.NewStruct(map[string]any{
		"generated_at":  formatTime(d.now()),
		"manager_count": len(managers),
		"session_count": sessions,
		"managers":      managers,
	})
}

func sessionsValue(stats []game.Stats) []any {
	out := make([]any, 0, len(stats))
	for _, s := range stats {
		out = append(out, map[string]any{
			"id":               s.ID,
			"ref":              s.Ref,
			"title":            s.Title,
			"room":             s.Room,
			"host":             s.Host,
			"started_at":       formatTime(s.StartedAt),
			"last_activity_at": formatTime(s.LastActivityAt),
			"idle_seconds":     s.Idle.Seconds(),
			"total_seconds":    s.Total.Seconds(),
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

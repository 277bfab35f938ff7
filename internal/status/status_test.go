package status

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"

	"cellwire/client/internal/logging"
	"cellwire/client/internal/session"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := New(logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("Serve did not return after cancellation")
		}
	})
	return srv, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) *healthpb.HealthCheckResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp
}

func TestHealthFollowsSessionState(t *testing.T) {
	srv, client := startServer(t)
	serving := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	notServing := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}

	if got := check(t, client, ""); !proto.Equal(got, serving) {
		t.Fatalf("process entry should serve, got %v", got)
	}
	if got := check(t, client, ServiceName); !proto.Equal(got, notServing) {
		t.Fatalf("session entry should start not serving, got %v", got)
	}

	steps := []struct {
		state session.State
		want  *healthpb.HealthCheckResponse
	}{
		{state: session.StateConnecting, want: notServing},
		{state: session.StateAwaitingHandshake, want: notServing},
		{state: session.StateInGame, want: serving},
		{state: session.StateDisconnected, want: notServing},
	}
	for _, step := range steps {
		srv.Observe(step.state)
		if got := check(t, client, ServiceName); !proto.Equal(got, step.want) {
			t.Fatalf("after %s: got %v want %v", step.state, got, step.want)
		}
		if srv.State() != step.state {
			t.Fatalf("State() = %s, want %s", srv.State(), step.state)
		}
	}
}

func TestListenAndServeRejectsBadAddress(t *testing.T) {
	srv := New(logging.NewTestLogger())
	defer srv.Stop()
	if err := srv.ListenAndServe(context.Background(), "not-an-address"); err == nil {
		t.Fatalf("expected a listen error")
	}
}

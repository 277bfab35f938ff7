package discovery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cellwire/client/internal/logging"
)

type capturedRequest struct {
	method  string
	body    string
	origin  string
	referer string
	agent   string
}

func newEndpoint(t *testing.T, status int, reply string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	seen := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		seen.method = r.Method
		seen.body = string(data)
		seen.origin = r.Header.Get("Origin")
		seen.referer = r.Header.Get("Referer")
		seen.agent = r.Header.Get("User-Agent")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestFindPostsRegionAndParsesReply(t *testing.T) {
	cases := []struct {
		name     string
		region   string
		mode     string
		wantBody string
	}{
		{name: "region only", region: "EU-London", wantBody: "EU-London\n2200049715"},
		{name: "with mode", region: "US-Atlanta", mode: "teams", wantBody: "US-Atlanta:teams\n2200049715"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, seen := newEndpoint(t, http.StatusOK, "1.2.3.4:443\nabc123\nextra\n")
			client := New(srv.URL, WithLogger(logging.NewTestLogger()))
			got, err := client.Find(context.Background(), tc.region, tc.mode)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got != (Server{Host: "1.2.3.4:443", Token: "abc123"}) {
				t.Fatalf("unexpected server %+v", got)
			}
			if seen.method != http.MethodPost || seen.body != tc.wantBody {
				t.Fatalf("unexpected request %s %q", seen.method, seen.body)
			}
			if seen.origin != "http://agar.io" || seen.referer != "http://agar.io" || seen.agent == "" {
				t.Fatalf("browser headers missing: %+v", seen)
			}
		})
	}
}

func TestFindRejectsIncompleteReplies(t *testing.T) {
	cases := []struct {
		name   string
		status int
		reply  string
	}{
		{name: "empty", status: http.StatusOK, reply: ""},
		{name: "host only", status: http.StatusOK, reply: "1.2.3.4:443\n"},
		{name: "blank token", status: http.StatusOK, reply: "1.2.3.4:443\n\n"},
		{name: "server error", status: http.StatusBadGateway, reply: "down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newEndpoint(t, tc.status, tc.reply)
			_, err := New(srv.URL, WithLogger(logging.NewTestLogger())).Find(context.Background(), "EU-London", "")
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tc.status == http.StatusOK && !errors.Is(err, ErrNoServer) {
				t.Fatalf("expected ErrNoServer, got %v", err)
			}
			if tc.status != http.StatusOK && !strings.Contains(err.Error(), "502") {
				t.Fatalf("expected the status in the error, got %v", err)
			}
		})
	}
}

func TestFindRequiresRegionAndHonoursContext(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusOK, "h\nt\n")
	client := New(srv.URL, WithLogger(logging.NewTestLogger()))
	if _, err := client.Find(context.Background(), " ", ""); err == nil {
		t.Fatalf("expected an error for an empty region")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Find(ctx, "EU-London", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

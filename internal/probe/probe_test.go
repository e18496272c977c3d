package probe

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/qbridge/internal/testutil/testlog"
)

func serverTarget(t *testing.T, srv *httptest.Server) Target {
	t.Helper()
	host, portRaw, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, _ := strconv.Atoi(portRaw)
	return Target{Host: host, Port: port, Timeout: time.Second, LocalIP: "192.168.1.20"}
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestRunHealthyBridge(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"online","nodes":4}`))
	}))
	defer srv.Close()

	report := Run(context.Background(), serverTarget(t, srv))
	if !report.OK() {
		t.Fatalf("expected healthy report: %+v", report)
	}
	if !strings.Contains(report.StatusBody, `"online"`) {
		t.Fatalf("unexpected body: %q", report.StatusBody)
	}
	if len(report.URLs) != 2 || !strings.HasPrefix(report.URLs[1], "http://192.168.1.20:") {
		t.Fatalf("unexpected urls: %v", report.URLs)
	}

	var out bytes.Buffer
	if err := Render(&out, report, false); err != nil {
		t.Fatalf("render: %v", err)
	}
	text := out.String()
	want := "✅ Port " + strconv.Itoa(report.Port) + " is listening"
	if !strings.Contains(text, want) || !strings.Contains(text, "qnetctl firewall allow") {
		t.Fatalf("unexpected render:\n%s", text)
	}
}

func TestRunNothingListening(t *testing.T) {
	testlog.Start(t)
	port := closedPort(t)
	report := Run(context.Background(), Target{Host: "127.0.0.1", Port: port, Timeout: 500 * time.Millisecond, LocalIP: "127.0.0.1"})
	if report.OK() || report.PortOpen || report.HTTPReachable {
		t.Fatalf("expected failing report: %+v", report)
	}
	if len(report.Checks) != 2 || report.Checks[1].Detail != "skipped: port closed" {
		t.Fatalf("unexpected checks: %+v", report.Checks)
	}

	var out bytes.Buffer
	if err := Render(&out, report, false); err != nil {
		t.Fatalf("render: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "❌ Nothing is listening on port "+strconv.Itoa(port)) {
		t.Fatalf("missing failure line:\n%s", text)
	}
	if !strings.Contains(text, "start it with: qnetctl start") {
		t.Fatalf("missing start hint:\n%s", text)
	}
}

func TestCheckHTTPRequiresOnline(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/offline":
			_, _ = w.Write([]byte(`{"status":"booting"}`))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`online`))
		default:
			_, _ = w.Write([]byte(`{"status":"online"}`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	if _, err := CheckHTTP(ctx, srv.URL+"/status", time.Second); err != nil {
		t.Fatalf("online should pass: %v", err)
	}
	if _, err := CheckHTTP(ctx, srv.URL+"/offline", time.Second); err == nil {
		t.Fatalf("booting body should fail")
	}
	if _, err := CheckHTTP(ctx, srv.URL+"/broken", time.Second); err == nil {
		t.Fatalf("500 should fail")
	}
}

func TestRenderHTTPFailureHint(t *testing.T) {
	report := Report{
		Host:     "127.0.0.1",
		Port:     8765,
		PortOpen: true,
		Checks:   []Check{{Name: "port", OK: true}, {Name: "http", Detail: "unexpected status 503"}},
	}
	var out bytes.Buffer
	if err := Render(&out, report, false); err != nil {
		t.Fatalf("render: %v", err)
	}
	text := out.String()
	for _, want := range []string{"✅ Port 8765 is listening", "❌ /status did not answer online", "unexpected status 503", "qnetctl restart"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}

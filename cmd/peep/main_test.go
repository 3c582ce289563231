package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	apiclient "github.com/splax/minivercel/pkg/api/client"
	"github.com/splax/minivercel/pkg/logbus"
)

func fakeAPI(t *testing.T, final logbus.Status) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/project", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"queued","data":{"projectSlug":"calm-otter","url":"http://calm-otter.localhost:8000"}}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub apiclient.Frame
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		_ = conn.WriteJSON(apiclient.Frame{Event: "message", Data: "Joined channel: " + sub.Data})
		_ = conn.WriteJSON(apiclient.Frame{Event: "message", Data: "Cloning", Log: &logbus.Event{Status: logbus.StatusProgress, Text: "Cloning"}})
		_ = conn.WriteJSON(apiclient.Frame{Event: "message", Data: "end", Log: &logbus.Event{Status: final, Text: "end: " + string(final)}})
		_, _, _ = conn.ReadMessage()
	})
	return httptest.NewServer(mux)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { apiBase = "" })
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDeployFollowsUntilSuccess(t *testing.T) {
	srv := fakeAPI(t, logbus.StatusSuccess)
	defer srv.Close()

	out, err := runCLI(t, "--api", srv.URL, "deploy", "https://github.com/acme/site.git")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	for _, want := range []string{"queued calm-otter", "Cloning", "end: success", "live at http://calm-otter.localhost:8000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("expected no colour codes off a terminal")
	}
}

func TestDeployReportsFailure(t *testing.T) {
	srv := fakeAPI(t, logbus.StatusFailure)
	defer srv.Close()

	out, err := runCLI(t, "--api", srv.URL, "deploy", "https://github.com/acme/site.git")
	if !errors.Is(err, errBuildFailed) {
		t.Fatalf("expected errBuildFailed, got %v", err)
	}
	if strings.Contains(out, "live at") {
		t.Fatalf("failed build should not print site url:\n%s", out)
	}
}

func TestLogsCommand(t *testing.T) {
	srv := fakeAPI(t, logbus.StatusSuccess)
	defer srv.Close()

	out, err := runCLI(t, "--api", srv.URL, "logs", "calm-otter")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(out, "Joined channel: logs:calm-otter") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestDeployRequiresURL(t *testing.T) {
	if _, err := runCLI(t, "deploy"); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != buildVersion {
		t.Fatalf("unexpected version output %q", out)
	}
}

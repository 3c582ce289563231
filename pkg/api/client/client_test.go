package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/minivercel/pkg/logbus"
)

func TestNewNormalisesBaseURL(t *testing.T) {
	cli, err := New("localhost:9000/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cli.baseURL != "http://localhost:9000" {
		t.Fatalf("unexpected base url %q", cli.baseURL)
	}
	endpoint, err := cli.streamURL()
	if err != nil || endpoint != "ws://localhost:9000/ws" {
		t.Fatalf("unexpected stream url %q (%v)", endpoint, err)
	}

	secure, _ := New("https://api.example.com")
	if endpoint, _ := secure.streamURL(); endpoint != "wss://api.example.com/ws" {
		t.Fatalf("unexpected secure stream url %q", endpoint)
	}
}

func TestSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/project" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["gitURL"] != "https://github.com/acme/site.git" || body["slug"] != "my-site" {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"queued","data":{"projectSlug":"my-site","url":"http://my-site.localhost:8000"}}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	sub, err := cli.Submit(context.Background(), "https://github.com/acme/site.git", " my-site ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.ProjectSlug != "my-site" || sub.URL != "http://my-site.localhost:8000" {
		t.Fatalf("unexpected submission %+v", sub)
	}
}

func TestSubmitReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"gitURL is required"}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	_, err := cli.Submit(context.Background(), "", "")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "gitURL is required" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestLatestAndHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/project/site":
			_, _ = w.Write([]byte(`{"status":"ok","data":{"id":"d1","projectId":"site","status":"building","phase":"Installing"}}`))
		case "/project/site/deployments":
			if r.URL.Query().Get("limit") != "2" {
				t.Errorf("expected limit 2, got %q", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"status":"ok","data":[{"id":"d2","status":"queued"},{"id":"d1","status":"failed"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	dep, err := cli.Latest(context.Background(), "site")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if dep.ID != "d1" || dep.Phase != "Installing" {
		t.Fatalf("unexpected deployment %+v", dep)
	}
	history, err := cli.History(context.Background(), "site", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].ID != "d2" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func logServer(t *testing.T, frames ...Frame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		var sub Frame
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Event != "subscribe" || sub.Data != "logs:site" {
			t.Errorf("unexpected subscribe frame %+v", sub)
		}
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		// Hold the connection until the client hangs up.
		_, _, _ = conn.ReadMessage()
	}))
}

func TestFollowLogsStopsAtTerminalEvent(t *testing.T) {
	srv := logServer(t,
		Frame{Event: "message", Data: "Joined channel: logs:site"},
		Frame{Event: "message", Data: "Cloning", Log: &logbus.Event{ProjectID: "site", Status: logbus.StatusProgress, Text: "Cloning"}},
		Frame{Event: "message", Data: "Done", Log: &logbus.Event{ProjectID: "site", Status: logbus.StatusSuccess, Text: "Done"}},
		Frame{Event: "message", Data: "after terminal"},
	)
	defer srv.Close()

	cli, _ := New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []string
	final, err := cli.FollowLogs(ctx, "site", func(f Frame) { seen = append(seen, f.Data) })
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if final.Status != logbus.StatusSuccess {
		t.Fatalf("expected success terminal event, got %+v", final)
	}
	if len(seen) != 3 || seen[2] != "Done" {
		t.Fatalf("unexpected frames %v", seen)
	}
}

func TestFollowLogsErrorFrame(t *testing.T) {
	srv := logServer(t, Frame{Event: "error", Data: "invalid channel: logs:site"})
	defer srv.Close()

	cli, _ := New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.FollowLogs(ctx, "site", nil); err == nil {
		t.Fatalf("expected error frame to fail the stream")
	}
}

func TestFollowLogsHonoursContext(t *testing.T) {
	srv := logServer(t, Frame{Event: "message", Data: "Joined channel: logs:site"})
	defer srv.Close()

	cli, _ := New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	joined := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := cli.FollowLogs(ctx, "site", func(Frame) { close(joined) })
		done <- err
	}()
	select {
	case <-joined:
	case <-time.After(5 * time.Second):
		t.Fatalf("never joined")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("follow did not return after cancel")
	}
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/PlotGo/internal/control"
	"github.com/cjeanneret/PlotGo/internal/hw/gpio"
	"github.com/cjeanneret/PlotGo/internal/logic/draw"
	"github.com/cjeanneret/PlotGo/internal/program"
)

const squareJSON = `["pen", {"op": "move", "to": [0, 0]}, "down", {"op": "move", "to": [10, 0], "speed": 0.5}, "up"]`

// fakeDraw records its last call.
type fakeDraw struct {
	prog program.Program
	opts draw.Options
	err  error
}

func (f *fakeDraw) run(_ context.Context, prog program.Program, opts draw.Options) (draw.Metrics, error) {
	f.prog, f.opts = prog, opts
	return draw.Metrics{Commands: len(prog)}, f.err
}

func newTestHandlers(drawFn DrawFunc, ctrl *control.Control) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		drawFn,
		ctrl,
		PenDefaults{Up: 60, Down: 30, UpRate: 75, DownRate: 50, Penlift: "standard", SpeedUp: 4000, SpeedDown: 4000},
		staticFS,
	)
}

func post(h http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

// ---------- HandleDraw ----------

func TestHandleDraw_ValidPost(t *testing.T) {
	f := &fakeDraw{}
	h := newTestHandlers(f.run, control.New())

	w := post(h.HandleDraw, "/draw", squareJSON)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp["id"]) != 36 {
		t.Errorf("id = %q, want a uuid", resp["id"])
	}

	h.Wait()
	if len(f.prog) != 5 || f.prog[3].Speed != 0.5 {
		t.Errorf("program = %v", f.prog)
	}
	if !f.opts.Wrap || !f.opts.ShowMetrics {
		t.Errorf("opts = %+v, want defaults", f.opts)
	}

	s := h.status()
	if s.Running || s.Job != resp["id"] {
		t.Errorf("status = %+v", s)
	}
	if s.Metrics == nil || s.Metrics.Commands != 5 {
		t.Errorf("metrics = %+v", s.Metrics)
	}
}

func TestHandleDraw_NoWrap(t *testing.T) {
	f := &fakeDraw{}
	h := newTestHandlers(f.run, nil)
	if w := post(h.HandleDraw, "/draw?wrap=false", `["up"]`); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	h.Wait()
	if f.opts.Wrap {
		t.Error("wrap=false should disable wrapping")
	}
	if w := post(h.HandleDraw, "/draw?wrap=maybe", `["up"]`); w.Code != http.StatusBadRequest {
		t.Errorf("bad wrap status = %d", w.Code)
	}
}

func TestHandleDraw_InvalidProgram(t *testing.T) {
	h := newTestHandlers((&fakeDraw{}).run, nil)
	cases := map[string]string{
		"not_json":      "not json",
		"unknown_op":    `["fly"]`,
		"move_no_to":    `[{"op": "move"}]`,
		"level_too_big": `[{"op": "down", "level": 150}]`,
		"object":        `{"op": "up"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if w := post(h.HandleDraw, "/draw", body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleDraw_OversizedBody(t *testing.T) {
	h := newTestHandlers((&fakeDraw{}).run, nil)
	w := post(h.HandleDraw, "/draw", strings.Repeat("x", maxProgramBytes+1))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleDraw_NilDraw(t *testing.T) {
	h := newTestHandlers(nil, nil)
	if w := post(h.HandleDraw, "/draw", squareJSON); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleDraw_Concurrent(t *testing.T) {
	started := make(chan struct{})
	blocking := make(chan struct{})
	slow := func(context.Context, program.Program, draw.Options) (draw.Metrics, error) {
		close(started)
		<-blocking
		return draw.Metrics{}, nil
	}
	h := newTestHandlers(slow, nil)

	if w := post(h.HandleDraw, "/draw", squareJSON); w.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d", w.Code)
	}
	<-started
	if !h.status().Running {
		t.Error("status should report running")
	}
	if w := post(h.HandleDraw, "/draw", squareJSON); w.Code != http.StatusConflict {
		t.Errorf("concurrent request: status = %d, want %d", w.Code, http.StatusConflict)
	}
	close(blocking)
	h.Wait()
	if w := post(h.HandleDraw, "/draw", `["up"]`); w.Code != http.StatusAccepted {
		t.Errorf("after completion: status = %d", w.Code)
	}
	h.Wait()
}

func TestHandleDraw_ResetsControlAndReportsError(t *testing.T) {
	ctrl := control.New()
	ctrl.Cancel()
	f := &fakeDraw{err: errors.New("port gone")}
	h := newTestHandlers(f.run, ctrl)

	post(h.HandleDraw, "/draw", squareJSON)
	h.Wait()
	if ctrl.State() != control.Continue {
		t.Errorf("control should be reset for a new draw, got %v", ctrl.State())
	}
	if s := h.status(); s.LastError != "port gone" {
		t.Errorf("last error = %q", s.LastError)
	}
}

func TestHandleDraw_ResetsLatchedButton(t *testing.T) {
	drv := &gpio.MockDriver{}
	buttons, err := control.NewButtons(drv, -1, 21)
	if err != nil {
		t.Fatal(err)
	}
	ctrl := control.New()
	sig := control.Any(ctrl, buttons)

	drv.Set(21, gpio.Low)
	if sig.State() != control.Cancel {
		t.Fatalf("button state = %v", sig.State())
	}
	drv.Set(21, gpio.High)

	var seen control.State
	h := newTestHandlers(func(ctx context.Context, p program.Program, o draw.Options) (draw.Metrics, error) {
		seen = sig.State()
		return draw.Metrics{}, nil
	}, ctrl)
	h.SetSignal(sig)
	if s := h.status(); s.State != "cancel" {
		t.Errorf("status before draw = %q, want cancel", s.State)
	}

	if w := post(h.HandleDraw, "/draw", squareJSON); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	h.Wait()
	if seen != control.Continue {
		t.Errorf("draw saw %v, want the released button reset", seen)
	}
	if s := h.status(); s.State != "continue" {
		t.Errorf("status after draw = %q", s.State)
	}
}

// ---------- Control ----------

func TestHandleControl(t *testing.T) {
	ctrl := control.New()
	h := newTestHandlers(nil, ctrl)
	steps := []struct {
		handler http.HandlerFunc
		want    string
	}{
		{h.HandlePause, "pause"},
		{h.HandleResume, "continue"},
		{h.HandleCancel, "cancel"},
		{h.HandleResume, "cancel"},
	}
	for i, s := range steps {
		w := post(s.handler, "/", "")
		var resp map[string]string
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("step %d: decode: %v", i, err)
		}
		if w.Code != http.StatusOK || resp["state"] != s.want {
			t.Errorf("step %d: %d %q, want %q", i, w.Code, resp["state"], s.want)
		}
	}
}

func TestHandleControl_NotConfigured(t *testing.T) {
	h := newTestHandlers(nil, nil)
	if w := post(h.HandlePause, "/pause", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
}

// ---------- HandleConfig / HandleStatus / ServeIndex ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(nil, nil)
	w := httptest.NewRecorder()
	h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var pd PenDefaults
	if err := json.NewDecoder(w.Body).Decode(&pd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pd.Up != 60 || pd.Down != 30 || pd.Penlift != "standard" {
		t.Errorf("defaults = %+v", pd)
	}
}

func TestHandleStatus_Idle(t *testing.T) {
	h := newTestHandlers(nil, control.New())
	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	var s Status
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Running || s.State != "continue" || s.Metrics != nil || s.Clients != 0 {
		t.Errorf("status = %+v", s)
	}
}

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(nil, nil)
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

// ---------- Server ----------

func newTestServer(t *testing.T, drawFn DrawFunc, ctrl *control.Control) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(":0", NewStatusBroadcaster(), drawFn, ctrl, PenDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(s.Mux())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServer_Routes(t *testing.T) {
	_, ts := newTestServer(t, nil, control.New())

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/pause")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /pause = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", resp.StatusCode)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) StatusEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt StatusEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return evt
}

func TestStatusStream(t *testing.T) {
	f := &fakeDraw{}
	s, ts := newTestServer(t, f.run, control.New())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/status/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if evt := readEvent(t, conn); evt.Kind != KindHello || evt.Msg != "continue" {
		t.Errorf("hello = %+v", evt)
	}
	if n := s.Handlers().status().Clients; n != 1 {
		t.Errorf("clients = %d, want 1", n)
	}

	resp, err := http.Post(ts.URL+"/pause", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if evt := readEvent(t, conn); evt.Kind != KindControl || evt.Msg != "pause" {
		t.Errorf("control event = %+v", evt)
	}

	resp, err = http.Post(ts.URL+"/draw", "application/json", strings.NewReader(`["up"]`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /draw = %d", resp.StatusCode)
	}
	started := readEvent(t, conn)
	if started.Kind != KindStarted || started.Job == "" {
		t.Errorf("started = %+v", started)
	}
	done := readEvent(t, conn)
	if done.Kind != KindDone || done.Job != started.Job || done.Metrics == nil || done.Metrics.Commands != 1 {
		t.Errorf("done = %+v", done)
	}
	s.Handlers().Wait()
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", NewStatusBroadcaster(), nil, nil, PenDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

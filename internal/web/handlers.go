package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cjeanneret/PlotGo/internal/control"
	"github.com/cjeanneret/PlotGo/internal/debug"
	"github.com/cjeanneret/PlotGo/internal/logic/draw"
	"github.com/cjeanneret/PlotGo/internal/program"
)

// maxProgramBytes bounds POST /draw bodies.
const maxProgramBytes = 4 << 20

// pingInterval keeps idle status streams alive.
const pingInterval = 30 * time.Second

// DrawFunc runs a program on the plotter. It is called from the POST /draw
// handler in a goroutine.
type DrawFunc func(ctx context.Context, prog program.Program, opts draw.Options) (draw.Metrics, error)

// PenDefaults is what GET /config returns.
type PenDefaults struct {
	Up        float64 `json:"up"`
	Down      float64 `json:"down"`
	UpRate    float64 `json:"up_rate"`
	DownRate  float64 `json:"down_rate"`
	DelayUp   int     `json:"delay_up"`
	DelayDown int     `json:"delay_down"`
	Penlift   string  `json:"penlift"`
	SpeedUp   float64 `json:"speed_up"`
	SpeedDown float64 `json:"speed_down"`
}

// Status is what GET /status returns.
type Status struct {
	Running   bool          `json:"running"`
	Job       string        `json:"job,omitempty"`
	State     string        `json:"state"`
	Metrics   *draw.Metrics `json:"metrics,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Clients   int           `json:"clients"` // open status streams
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Draw        DrawFunc
	Control     *control.Control
	Signal      control.Signal // what the draw loop reads; reset before each draw
	Defaults    PenDefaults
	staticFS    fs.FS
	upgrader    websocket.Upgrader

	ctx context.Context
	wg  sync.WaitGroup

	mu      sync.Mutex
	running bool
	job     string
	last    *draw.Metrics
	lastErr string
}

// NewHandlers creates handlers. A nil drawFn makes POST /draw answer 503;
// a nil ctrl makes the pause/resume/cancel endpoints answer 503.
func NewHandlers(b *StatusBroadcaster, drawFn DrawFunc, ctrl *control.Control, defaults PenDefaults, staticFS fs.FS) *Handlers {
	h := &Handlers{
		Broadcaster: b,
		Draw:        drawFn,
		Control:     ctrl,
		Defaults:    defaults,
		staticFS:    staticFS,
		ctx:         context.Background(),
	}
	if ctrl != nil {
		h.Signal = ctrl
	}
	return h
}

// SetSignal replaces the signal reported by /status and reset by POST
// /draw, e.g. the control combined with GPIO buttons. Call before serving.
func (h *Handlers) SetSignal(s control.Signal) { h.Signal = s }

// Wait blocks until the running draw, if any, returns.
func (h *Handlers) Wait() { h.wg.Wait() }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the pen defaults.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Defaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleDraw starts a draw from a JSON program. ?wrap=false skips the start
// and stop sequences.
func (h *Handlers) HandleDraw(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProgramBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "program too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	prog, err := program.DecodeJSON(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := draw.DefaultOptions()
	if v := r.URL.Query().Get("wrap"); v != "" {
		wrap, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "wrap must be a boolean", http.StatusBadRequest)
			return
		}
		opts.Wrap = wrap
	}

	if h.Draw == nil {
		http.Error(w, "plotter not configured", http.StatusServiceUnavailable)
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		http.Error(w, "draw already in progress", http.StatusConflict)
		return
	}
	id := uuid.NewString()
	h.running = true
	h.job = id
	h.mu.Unlock()

	control.Reset(h.Signal)
	h.Broadcaster.Publish(StatusEvent{Kind: KindStarted, Job: id, Msg: strconv.Itoa(len(prog)) + " instructions"})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		m, err := h.Draw(h.ctx, prog, opts)

		h.mu.Lock()
		h.running = false
		h.last = &m
		h.lastErr = ""
		if err != nil {
			h.lastErr = err.Error()
		}
		h.mu.Unlock()

		if err != nil {
			debug.Warn("draw %s failed: %v", id, err)
			h.Broadcaster.Publish(StatusEvent{Kind: KindFailed, Level: "error", Job: id, Msg: err.Error(), Metrics: &m})
			return
		}
		h.Broadcaster.Publish(StatusEvent{Kind: KindDone, Job: id, Metrics: &m})
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// HandlePause, HandleResume and HandleCancel drive the shared control.
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.control(w, (*control.Control).Pause)
}

func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.control(w, (*control.Control).Resume)
}

func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.control(w, (*control.Control).Cancel)
}

func (h *Handlers) control(w http.ResponseWriter, op func(*control.Control)) {
	if h.Control == nil {
		http.Error(w, "control not configured", http.StatusServiceUnavailable)
		return
	}
	op(h.Control)
	state := h.Control.State().String()
	h.Broadcaster.Publish(StatusEvent{Kind: KindControl, Msg: state})
	writeJSON(w, http.StatusOK, map[string]string{"state": state})
}

// HandleStatus returns the current job and the last metrics.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handlers) status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Status{
		Running:   h.running,
		Job:       h.job,
		State:     control.Continue.String(),
		Metrics:   h.last,
		LastError: h.lastErr,
		Clients:   h.Broadcaster.Clients(),
	}
	if h.Signal != nil {
		s.State = h.Signal.State().String()
	}
	return s
}

// HandleStatusStream upgrades to a websocket and forwards status events
// until the client goes away.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	defer conn.Close()

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()
	debug.Verbose("Status stream opened (%d clients)", h.Broadcaster.Clients())

	// The read side only detects close; clients do not send anything.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s := h.status()
	hello, _ := json.Marshal(StatusEvent{Time: time.Now().Format(time.RFC3339), Kind: KindHello, Job: s.Job, Msg: s.State})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

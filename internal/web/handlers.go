package web

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"github.com/cjeanneret/gimbal/internal/debug"
	"github.com/cjeanneret/gimbal/internal/hw/tmc"
	"github.com/cjeanneret/gimbal/internal/logic/motion"
)

// maxBodyBytes caps API request bodies.
const maxBodyBytes = 1 << 20

// Commander accepts gimbal commands. *motion.Controller implements it.
type Commander interface {
	Submit(ctx context.Context, cmd motion.Cmd) error
	Snapshot() motion.Snapshot
}

// DriverStatus exposes the driver register cache. *tmc.Link implements it.
type DriverStatus interface {
	Registers() map[string]uint32
	Stats() tmc.Stats
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Gimbal motion.Snapshot `json:"gimbal"`
	Driver *DriverReport   `json:"driver,omitempty"`
}

// DriverReport is the driver part of a status response.
type DriverReport struct {
	Registers map[string]uint32 `json:"registers"`
	Stats     tmc.Stats         `json:"stats"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Controller  Commander
	Driver      DriverStatus // optional

	// SubmitTimeout bounds how long a request waits for room in the queue.
	SubmitTimeout time.Duration

	staticFS fs.FS
	upgrader websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If ctrl is nil, command endpoints return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, ctrl Commander, driver DriverStatus, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:   broadcaster,
		Controller:    ctrl,
		Driver:        driver,
		SubmitTimeout: 2 * time.Second,
		staticFS:      staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local network tool
			},
		},
	}
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

// submit hands cmd to the controller, waiting at most SubmitTimeout.
func (h *Handlers) submit(ctx context.Context, cmd motion.Cmd) error {
	if h.Controller == nil {
		return motion.ErrClosed
	}
	if h.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.SubmitTimeout)
		defer cancel()
	}
	return h.Controller.Submit(ctx, cmd)
}

func (h *Handlers) accepted(w http.ResponseWriter, r *http.Request) {
	ack := AckPayload{Status: "queued"}
	if h.Controller != nil {
		ack.Queued = h.Controller.Snapshot().Queued
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ack)
}

// HandleMove handles POST /api/move.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req MoveRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	cmd, err := req.Cmd()
	if err != nil {
		render.Render(w, r, ErrInvalidMove(err))
		return
	}
	if err := h.submit(r.Context(), cmd); err != nil {
		debug.Verbose("web: move rejected: %v", err)
		render.Render(w, r, submitError(err))
		return
	}
	h.accepted(w, r)
}

// HandleClear handles POST /api/clear.
func (h *Handlers) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.submit(r.Context(), motion.ClearQueue()); err != nil {
		render.Render(w, r, submitError(err))
		return
	}
	h.accepted(w, r)
}

// Status builds the current status report.
func (h *Handlers) Status() (StatusResponse, error) {
	if h.Controller == nil {
		return StatusResponse{}, errors.New("controller not configured")
	}
	resp := StatusResponse{Gimbal: h.Controller.Snapshot()}
	if h.Driver != nil {
		resp.Driver = &DriverReport{
			Registers: h.Driver.Registers(),
			Stats:     h.Driver.Stats(),
		}
	}
	return resp, nil
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Status()
	if err != nil {
		render.Render(w, r, ErrUnavailable(err))
		return
	}
	render.JSON(w, r, resp)
}

// HandleStatusStream handles GET /api/status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

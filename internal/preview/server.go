// Package preview serves health endpoints and a live JPEG preview of the
// camera texture over WebSocket.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
)

const (
	writeWait      = 2 * time.Second
	sendBufferSize = 1
)

// Options configures the preview server.
type Options struct {
	Listen      string  // e.g. :8090
	FPS         float64 // websocket push rate
	JPEGQuality int     // 1-100
}

// Status is the readiness report served on /readiness.
type Status struct {
	Status         string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds  int64  `json:"uptime_seconds"`
	State          string `json:"state"`
	PipelineID     string `json:"pipeline_id,omitempty"`
	Published      uint64 `json:"frames_published"`
	Dropped        uint64 `json:"frames_dropped"`
	Faults         uint64 `json:"faults"`
	Restarts       uint32 `json:"restarts"`
	MQTTConnected  bool   `json:"mqtt_connected"`
	PreviewClients int    `json:"preview_clients"`
}

// StatusFunc reports the service status. UptimeSeconds and PreviewClients
// are filled by the server.
type StatusFunc func() Status

// Server is a Texture that re-publishes uploaded frames to WebSocket clients.
type Server struct {
	format frameslot.Format
	opts   Options
	status StatusFunc
	start  time.Time

	upgrader websocket.Upgrader

	frameMu sync.Mutex
	frame   []byte
	version uint64

	clientsMu sync.Mutex
	clients   map[*client]struct{}

	httpServer *http.Server
	wg         sync.WaitGroup
	cancel     context.CancelFunc
}

// New creates a preview server for frames of the given format.
func New(format frameslot.Format, opts Options, status StatusFunc) *Server {
	if opts.FPS <= 0 {
		opts.FPS = 10
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 80
	}
	return &Server{
		format:  format,
		opts:    opts,
		status:  status,
		start:   time.Now(),
		clients: make(map[*client]struct{}),
	}
}

// Format returns the preview frame geometry.
func (s *Server) Format() frameslot.Format {
	return s.format
}

// Upload stores a copy of the latest RGBx frame for the next push.
func (s *Server) Upload(pix []byte) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if cap(s.frame) < len(pix) {
		s.frame = make([]byte, len(pix))
	}
	s.frame = s.frame[:len(pix)]
	copy(s.frame, pix)
	s.version++
}

// Handler returns the HTTP routes: /health, /readiness and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.livenessHandler)
	mux.HandleFunc("/readiness", s.readinessHandler)
	mux.HandleFunc("/ws", s.wsHandler)
	return mux
}

// Start listens on Options.Listen and starts the push loop. It does not block.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("preview: listen %s: %w", s.opts.Listen, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, s.cancel = context.WithCancel(ctx)

	slog.Info("preview: starting server",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", "/ws"},
		"fps", s.opts.FPS,
	)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("preview: server failed", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	return nil
}

// Shutdown stops the push loop, closes client connections and the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	s.clientsMu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clientsMu.Unlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()

	slog.Info("preview: server stopped")
	return err
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// run pushes the latest frame to all clients at Options.FPS.
func (s *Server) run(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / s.opts.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent = s.broadcast(sent)
		}
	}
}

// broadcast encodes and fans out the current frame if it is newer than
// lastVersion. Returns the version that was sent.
func (s *Server) broadcast(lastVersion uint64) uint64 {
	if s.Clients() == 0 {
		return lastVersion
	}

	s.frameMu.Lock()
	if s.version == lastVersion || s.frame == nil {
		s.frameMu.Unlock()
		return lastVersion
	}
	version := s.version
	data, err := encodeJPEG(s.format, s.frame, s.opts.JPEGQuality)
	s.frameMu.Unlock()

	if err != nil {
		slog.Warn("preview: jpeg encode failed", "error", err)
		return version
	}

	s.clientsMu.Lock()
	for c := range s.clients {
		c.offer(data)
	}
	s.clientsMu.Unlock()

	return version
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.start).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var st Status
	if s.status != nil {
		st = s.status()
	}
	st.UptimeSeconds = int64(time.Since(s.start).Seconds())
	st.PreviewClients = s.Clients()

	statusCode := http.StatusOK
	if st.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(st)
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("preview: websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn)
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	slog.Info("preview: client connected", "remote", conn.RemoteAddr().String(), "clients", n)

	go c.writeLoop()
	c.readLoop()

	s.clientsMu.Lock()
	delete(s.clients, c)
	n = len(s.clients)
	s.clientsMu.Unlock()
	c.close()

	slog.Info("preview: client disconnected", "remote", conn.RemoteAddr().String(), "clients", n)
}

// client is one WebSocket viewer. Only the newest frame is kept queued.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// offer queues data, replacing a frame the writer has not picked up yet.
func (c *client) offer(data []byte) {
	for {
		select {
		case c.send <- data:
			return
		case <-c.done:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				slog.Debug("preview: write failed", "error", err)
				c.close()
				return
			}
		}
	}
}

// readLoop drains control frames until the peer goes away.
func (c *client) readLoop() {
	c.conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

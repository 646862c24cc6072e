// Package observability implements the routing core's read-only operator
// endpoint (SPEC_FULL.md §4.8): a fasthttp HTTP server exposing a
// point-in-time JSON snapshot of registry/routing state at /snapshot, and a
// gorilla/websocket feed that pushes the same snapshot on an interval for a
// live dashboard. The two transports listen on separate addresses —
// fasthttp has no native hijack path to a gorilla connection, so the
// websocket feed runs its own net/http listener.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp"
)

// Snapshot is the wire shape returned by /snapshot and pushed over the
// websocket feed.
type Snapshot struct {
	GeneratedAt   time.Time      `json:"generatedAt"`
	Ready         bool           `json:"ready"`
	ServerCount   int            `json:"serverCount"`
	ProxyCount    int            `json:"proxyCount"`
	QueueDepths   map[string]int `json:"queueDepths"` // familyId -> depth
	InFlightCount int            `json:"inFlightCount"`
	PartyCount    int            `json:"activePartyCount"`
}

// SnapshotFunc produces a fresh Snapshot. The routing service and
// registries supply this; observability holds no state of its own.
type SnapshotFunc func() Snapshot

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves /snapshot over fasthttp and the live feed over gorilla
// websocket.
type Server struct {
	snapshotAddr string
	streamAddr   string
	snapshot     SnapshotFunc
	interval     time.Duration

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	fast   *fasthttp.Server
	stream *http.Server
}

// NewServer creates an observability server. snapshotAddr serves /snapshot
// over fasthttp; streamAddr serves /stream over net/http+gorilla/websocket.
// interval governs how often the stream pushes a fresh snapshot; <= 0
// defaults to 2s.
func NewServer(snapshotAddr, streamAddr string, snapshot SnapshotFunc, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	s := &Server{
		snapshotAddr: snapshotAddr,
		streamAddr:   streamAddr,
		snapshot:     snapshot,
		interval:     interval,
		conns:        make(map[*websocket.Conn]struct{}),
	}
	s.fast = &fasthttp.Server{Handler: s.handleSnapshot}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	s.stream = &http.Server{Addr: streamAddr, Handler: mux}
	return s
}

// ListenAndServe starts both listeners and the broadcast loop, blocking
// until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.broadcastLoop(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- s.fast.ListenAndServe(s.snapshotAddr) }()
	go func() { errCh <- s.stream.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = s.fast.Shutdown()
		return s.stream.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleSnapshot(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != "/snapshot" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(s.snapshot()); err != nil {
		slog.Error("encoding snapshot", "error", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrading stream connection", "error", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	// Push an immediate snapshot so a new dashboard client doesn't wait a
	// full interval for its first frame.
	if err := conn.WriteJSON(s.snapshot()); err != nil {
		s.dropConn(conn)
		return
	}

	// Drain and discard client frames until the connection closes; this
	// feed is publish-only.
	go func() {
		defer s.dropConn(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.broadcast(s.snapshot())
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) broadcast(snap Snapshot) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(snap); err != nil {
			s.dropConn(c)
		}
	}
}

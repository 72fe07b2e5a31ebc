package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rs/cors"

	"github.com/tomaslejdung/cowatch/pkg/media"
)

// DefaultSendBuffer is the per-connection outbound queue length.
const DefaultSendBuffer = 256

// Client is the server side of one /ws connection.
// roomID and name are owned by the connection's read goroutine; other
// goroutines only read name while holding the room lock.
type Client struct {
	ID     string
	conn   *websocket.Conn
	roomID string // empty until create/join succeeds
	name   string
	send   chan []byte
	done   chan struct{} // closed when the connection is torn down
	server *Server
}

// RoomID returns the room the client belongs to, or "".
func (c *Client) RoomID() string { return c.roomID }

// Name returns the client's display name.
func (c *Client) Name() string { return c.name }

// enqueue hands data to the write pump without blocking. It reports false
// when the connection is gone or its queue is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Options configures a Server.
type Options struct {
	Logger      *slog.Logger
	Metrics     *Metrics
	SendBuffer  int
	CORSOrigins []string
	ICEServers  []webrtc.ICEServer
	ForceRelay  bool         // clients should use TURN only
	Media       *media.Store // nil disables /api/upload and /media/
}

// Server manages WebSocket connections and room routing
type Server struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *Metrics
	opts     Options
}

// NewServer creates a relay server with an empty registry
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	return &Server{
		registry: NewRegistry(opts.Logger, opts.Metrics),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // the PIN is the only gate
			},
		},
		logger:  opts.Logger,
		metrics: opts.Metrics,
		opts:    opts,
	}
}

// Registry returns the server's room registry
func (s *Server) Registry() *Registry { return s.registry }

// HandleWebSocket upgrades the request and starts the client's pumps
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("relay.ws.upgrade", "err", err, "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, s.opts.SendBuffer),
		done:   make(chan struct{}),
		server: s,
	}
	s.metrics.connOpened()
	s.logger.Debug("relay.client.connected", "client", client.ID, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// removeClient runs once per connection, after its read loop has ended
func (s *Server) removeClient(c *Client) {
	s.registry.Leave(c)
	s.metrics.connClosed()
	s.logger.Debug("relay.client.disconnected", "client", c.ID)
}

// Handler wires the WebSocket endpoint and the HTTP API into one handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.HandleWebSocket)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/rooms", s.handleRooms)
	mux.HandleFunc("GET /api/rooms/suggest", s.handleSuggest)
	mux.HandleFunc("GET /api/ice", s.handleICE)
	mux.Handle("GET /metrics", s.metrics.Handler())

	if s.opts.Media != nil {
		mux.HandleFunc("POST /api/upload", s.opts.Media.HandleUpload)
		mux.Handle("GET /media/", http.StripPrefix("/media/", s.opts.Media.FileServer()))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// ListenAndServe serves Handler on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server.shutdown.start")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	// Hijacked WebSocket connections are not tracked by Shutdown; their read
	// loops end when the process exits.
	err := srv.Shutdown(shutdownCtx)
	s.logger.Info("server.shutdown.complete")
	return err
}

type healthResponse struct {
	OK    bool `json:"ok"`
	Rooms int  `json:"rooms"`
}

type roomsResponse struct {
	Rooms []string `json:"rooms"`
}

type suggestResponse struct {
	RoomID string `json:"roomId"`
	PIN    string `json:"pin"`
}

type iceResponse struct {
	ICEServers         []webrtc.ICEServer `json:"iceServers"`
	ICETransportPolicy string             `json:"iceTransportPolicy"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{OK: true, Rooms: s.registry.Len()})
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: s.registry.ListIDs()})
}

// handleSuggest proposes an unused room id and a fresh PIN
func (s *Server) handleSuggest(w http.ResponseWriter, _ *http.Request) {
	code := GenerateRoomCode()
	for i := 0; i < 10 && s.registry.Lookup(code) != nil; i++ {
		code = GenerateRoomCode()
	}
	writeJSON(w, http.StatusOK, suggestResponse{RoomID: code, PIN: GeneratePIN()})
}

func (s *Server) handleICE(w http.ResponseWriter, _ *http.Request) {
	policy := webrtc.ICETransportPolicyAll
	if s.opts.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	servers := s.opts.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	writeJSON(w, http.StatusOK, iceResponse{ICEServers: servers, ICETransportPolicy: policy.String()})
}

// writeJSON sends v with proper headers
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

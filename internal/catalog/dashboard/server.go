// Package dashboard serves the catalog's HTTP surface: a brand search page,
// a JSON lookup API, a WebSocket stream of reconciliation events, health,
// Prometheus metrics, and (for the fs asset backend) the asset files.
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steveyegge/catalogsync/internal/catalog/lookup"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeHello is sent to each client on connect
	MessageTypeHello MessageType = "hello"

	// MessageTypeRecordChange indicates a product was inserted, updated, or deleted
	MessageTypeRecordChange MessageType = "record_change"

	// MessageTypeAssetSynced indicates an asset key was uploaded, skipped, or failed
	MessageTypeAssetSynced MessageType = "asset_synced"

	// MessageTypeRunFinished indicates a reconciliation run completed
	MessageTypeRunFinished MessageType = "run_finished"

	// MessageTypeStats carries aggregate run statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Searcher looks up products by brand.
type Searcher interface {
	Lookup(ctx context.Context, brand string) ([]lookup.Listing, error)
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: ":8501")
	Addr string

	// Lookup answers search requests. Required.
	Lookup Searcher

	// Assets, when set, is served under /assets/.
	Assets http.FileSystem

	// Metrics serves /metrics (default: promhttp.Handler()).
	Metrics http.Handler

	// Status, when set, adds scheduler state to /health.
	Status func() any

	// Logger for server activity (default: slog.Default())
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:   ":8501",
		Logger: slog.Default(),
	}
}

// Server serves the dashboard and broadcasts reconciliation events to
// WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	config   *Config

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// NewServer creates a new dashboard server
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Lookup == nil {
		return nil, fmt.Errorf("lookup cannot be nil")
	}
	if config.Addr == "" {
		config.Addr = ":8501"
	}
	if config.Metrics == nil {
		config.Metrics = promhttp.Handler()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      config.Addr,
		config:    config,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With("component", "dashboard"),
	}, nil
}

// Handler returns the dashboard's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/products", s.handleProducts)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.config.Metrics)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.config.Assets != nil {
		mux.Handle("GET /assets/", http.StripPrefix("/assets", http.FileServer(s.config.Assets)))
	}
	return mux
}

// Start begins the HTTP server and broadcast loop. It returns once the
// listener is open.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Info("dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients. Messages are dropped
// when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("failed to marshal message", "error", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Debug("failed to send to client", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Debug("client connected", "clients", clientCount)

	hello, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now()})
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, hello)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the connection open until the client goes away.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug("client disconnected", "clients", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

type pageData struct {
	Brand    string
	Searched bool
	Listings []lookup.Listing
	Error    string
}

// handleIndex renders the search form and, when a brand is given, its
// products. Lookup failures are shown inline.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := pageData{Brand: strings.TrimSpace(r.URL.Query().Get("brand"))}

	if data.Brand != "" {
		data.Searched = true
		listings, err := s.config.Lookup.Lookup(r.Context(), data.Brand)
		if err != nil {
			data.Error = err.Error()
		}
		data.Listings = listings
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		s.logger.Warn("failed to render page", "error", err)
	}
}

type productsResponse struct {
	Brand    string           `json:"brand"`
	Products []lookup.Listing `json:"products"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	brand := strings.TrimSpace(r.URL.Query().Get("brand"))
	resp := productsResponse{Brand: brand, Products: []lookup.Listing{}}

	if brand == "" {
		resp.Error = "brand is required"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	listings, err := s.config.Lookup.Lookup(r.Context(), brand)
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if listings != nil {
		resp.Products = listings
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	}
	if s.config.Status != nil {
		body["scheduler"] = s.config.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

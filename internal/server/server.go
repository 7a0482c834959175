package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/tyxk8160/mathtag"
	"github.com/tyxk8160/mathtag/internal/build"
	"github.com/tyxk8160/mathtag/internal/metrics"
)

// reloadScript reconnects to the preview socket and reloads the page when
// the file it was served from changes
const reloadScript = `(function(){var p=location.pathname;var ws=new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"/ws");ws.onmessage=function(e){var m=JSON.parse(e.data);if(m.type==="reload"&&(m.path===p||(p.endsWith("/")&&m.path===p+"index.html"))){location.reload();}};})();`

// Message is exchanged over the preview websocket
type Message struct {
	Type   string          `json:"type"`
	HTML   string          `json:"html,omitempty"`
	Path   string          `json:"path,omitempty"`
	Result *mathtag.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Config configures the preview server
type Config struct {
	Root            string
	Upgrader        *websocket.Upgrader
	Metrics         *metrics.Collector
	Logger          *zap.Logger
	ReloadDisabled  bool // Serve pages without the reload script
	ShutdownTimeout time.Duration
}

// Server serves HTML files with their math rewritten on every page load
type Server struct {
	config   Config
	rewriter *mathtag.Rewriter
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

func (c *client) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// New creates a preview server
func New(rw *mathtag.Rewriter, config Config) *Server {
	if config.Upgrader == nil {
		config.Upgrader = &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		}
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewCollector()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}

	return &Server{
		config:   config,
		rewriter: rw,
		logger:   config.Logger,
		clients:  make(map[*client]struct{}),
	}
}

// Handler returns the HTTP handler for the preview server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/", s.handleFile)
	return mux
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("preview server listening", zap.String("addr", addr), zap.String("root", s.config.Root))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	urlPath := path.Clean("/" + r.URL.Path)
	if strings.HasSuffix(r.URL.Path, "/") {
		urlPath = path.Join(urlPath, "index.html")
	}
	filePath := filepath.Join(s.config.Root, filepath.FromSlash(urlPath))

	info, err := os.Stat(filePath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if info.IsDir() {
		http.Redirect(w, r, urlPath+"/", http.StatusMovedPermanently)
		return
	}
	if !build.IsHTML(filePath) {
		http.ServeFile(w, r, filePath)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		http.Error(w, "failed to open file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	doc, err := mathtag.ParseDocument(f, "text/html")
	if err != nil {
		s.config.Metrics.IncrementDocumentError()
		s.logger.Error("failed to parse page", zap.String("path", urlPath), zap.Error(err))
		http.Error(w, "failed to parse page", http.StatusInternalServerError)
		return
	}

	// Serving the page is the load event: rewrite first, then add the reload
	// hook so it is never scanned
	if _, err := doc.Ready(s.rewriter); err != nil {
		s.config.Metrics.IncrementDocumentError()
		http.Error(w, "failed to rewrite page", http.StatusInternalServerError)
		return
	}
	if !s.config.ReloadDisabled {
		injectReload(doc.Body())
	}

	out, result, err := s.rewriter.ProcessDocument(doc)
	if err != nil {
		s.config.Metrics.IncrementDocumentError()
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	s.config.Metrics.RecordResult(result)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(out))
}

// injectReload appends the reload script to the body element
func injectReload(body *html.Node) {
	if body == nil {
		return
	}
	script := &html.Node{Type: html.ElementNode, Data: "script", DataAtom: atom.Script}
	script.AppendChild(&html.Node{Type: html.TextNode, Data: reloadScript})
	body.AppendChild(script)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"metrics":  s.config.Metrics.GetMetrics(),
		"counters": s.config.Metrics.GetCustomCounters(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.config.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	s.logger.Debug("client connected", zap.String("remote", conn.RemoteAddr().String()))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket error", zap.Error(err))
			}
			return
		}

		reply := s.handleMessage(data)
		if err := c.send(reply); err != nil {
			s.logger.Warn("failed to send reply", zap.Error(err))
			return
		}
	}
}

func (s *Server) handleMessage(data []byte) Message {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{Type: "error", Error: "invalid message: " + err.Error()}
	}

	switch msg.Type {
	case "render":
		s.config.Metrics.IncrementCustomCounter("render")
		out, result, err := s.rewriter.ProcessFragment(msg.HTML)
		if err != nil {
			s.config.Metrics.IncrementDocumentError()
			return Message{Type: "error", Error: err.Error()}
		}
		s.config.Metrics.RecordResult(result)
		return Message{Type: "rendered", HTML: out, Result: &result}
	case "ping":
		return Message{Type: "pong"}
	default:
		return Message{Type: "error", Error: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}

// Notify broadcasts a reload for each changed file under the root.
// It matches the watcher handler signature.
func (s *Server) Notify(ctx context.Context, paths []string) {
	for _, p := range paths {
		rel, err := filepath.Rel(s.config.Root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		s.Broadcast(Message{Type: "reload", Path: "/" + filepath.ToSlash(rel)})
	}
}

// Broadcast sends msg to every connected client
func (s *Server) Broadcast(msg Message) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.config.Metrics.IncrementCustomCounter(msg.Type)
	for _, c := range clients {
		if err := c.send(msg); err != nil {
			s.logger.Debug("failed to broadcast", zap.Error(err))
		}
	}
}

// Clients returns the number of connected websocket clients
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
}

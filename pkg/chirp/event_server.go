package chirp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = (wsPongWait * 9) / 10
	wsSendBuffer  = 64
	wsMaxReadSize = 4096
)

// Command is a client request received on the websocket feed
type Command struct {
	Type        string `json:"type"`
	Expected    string `json:"expected,omitempty"`
	Text        string `json:"text,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
	Volume      *int   `json:"volume,omitempty"`
	SpeakerMode bool   `json:"speaker_mode,omitempty"`
}

// CommandReply acknowledges or rejects a Command
type CommandReply struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

type snapshotMessage struct {
	Type     string   `json:"type"`
	Snapshot Snapshot `json:"snapshot"`
}

// EventServer exposes a Host over HTTP and websocket
type EventServer struct {
	host     *Host
	config   *Config
	logger   *Logger
	router   chi.Router
	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
	conns  map[*websocket.Conn]struct{}
	wg     sync.WaitGroup
}

func NewEventServer(host *Host, config *Config) *EventServer {
	if config == nil {
		config = host.Config()
	}
	s := &EventServer{
		host:   host,
		config: config,
		logger: GetGlobalLogger().WithComponent("EventServer"),
		conns:  make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/protocols", s.handleProtocols)
		r.Get("/ws", s.handleWebSocket)
	})
	s.router = r
	return s
}

// Handler returns the router, mainly for tests
func (s *EventServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *EventServer) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = s.config.ServerAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Event server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("Event server shutdown failed")
		}
		// hijacked websocket connections are not closed by Shutdown
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("Event server stopped")
		return nil
	}
}

func (s *EventServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.ServerSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.URL.Query().Get("token")
		if token == "" {
			token = bearerToken(r.Header.Get("Authorization"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, NewAudioError("missing access token", ErrCodeUnauthorized))
			return
		}
		if _, err := ValidateAccessToken(s.config.ServerSecret, token); err != nil {
			s.logger.WithError(err).Debug("Rejected access token")
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *EventServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.host.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":            true,
		"gateway_ready": snap.GatewayReady,
	})
}

func (s *EventServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Snapshot())
}

func (s *EventServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.host.History())
}

func (s *EventServer) handleProtocols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Protocols())
}

type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	send    chan interface{}
	dropped atomic.Int64
}

func (c *wsClient) write(msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(msg)
}

// enqueue never blocks the publishing session; a slow client loses events
func (c *wsClient) enqueue(msg interface{}) {
	select {
	case c.send <- msg:
	default:
		c.dropped.Add(1)
	}
}

func (s *EventServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	client := &wsClient{conn: conn, send: make(chan interface{}, wsSendBuffer)}
	logger := s.logger.WithField("remote", r.RemoteAddr)
	logger.Info("Feed client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.write(snapshotMessage{Type: "snapshot", Snapshot: s.host.Snapshot()}); err != nil {
		logger.WithError(err).Warn("Failed to send snapshot")
		conn.Close()
		return
	}

	var sendMu sync.Mutex
	closed := false
	unsubscribe := s.host.Subscribe(func(event Event) {
		sendMu.Lock()
		defer sendMu.Unlock()
		if !closed {
			client.enqueue(event)
		}
	})

	go s.writePump(ctx, client)
	s.readPump(ctx, client, logger)

	unsubscribe()
	sendMu.Lock()
	closed = true
	sendMu.Unlock()
	cancel()
	conn.Close()
	logger.WithField("dropped_events", client.dropped.Load()).Info("Feed client disconnected")
}

func (s *EventServer) writePump(ctx context.Context, client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-client.send:
			if err := client.write(msg); err != nil {
				client.conn.Close()
				return
			}
		case <-ticker.C:
			client.writeMu.Lock()
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := client.conn.WriteMessage(websocket.PingMessage, nil)
			client.writeMu.Unlock()
			if err != nil {
				client.conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *EventServer) readPump(ctx context.Context, client *wsClient, logger *Logger) {
	conn := client.conn
	conn.SetReadLimit(wsMaxReadSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("Feed read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		logger.WithField("command", cmd.Type).Debug("Feed command received")
		s.dispatch(ctx, client, cmd)
	}
}

func (s *EventServer) dispatch(ctx context.Context, client *wsClient, cmd Command) {
	reply := func(err error) {
		r := CommandReply{Type: "ack", Command: cmd.Type}
		if err != nil {
			r.Type = "error"
			r.Error = err.Error()
			r.Code = ErrorCode(err)
		}
		client.enqueue(r)
	}

	switch cmd.Type {
	case "start":
		reply(s.host.StartListening(ctx, cmd.Expected))
	case "stop":
		s.host.StopListening()
		reply(nil)
	case "reset":
		s.host.Reset()
		reply(nil)
	case "snapshot":
		client.enqueue(snapshotMessage{Type: "snapshot", Snapshot: s.host.Snapshot()})
	case "transmit":
		req, err := s.transmissionRequest(cmd)
		if err != nil {
			reply(err)
			return
		}
		// playback blocks until the waveform finished, so it gets its own goroutine
		go func() {
			if err := s.host.Transmit(ctx, req); err != nil {
				reply(err)
				return
			}
			reply(nil)
		}()
	case "stop_transmit":
		s.host.StopTransmit()
		reply(nil)
	default:
		reply(NewAudioError("unknown command: "+cmd.Type, ErrCodeInvalidRequest))
	}
}

func (s *EventServer) transmissionRequest(cmd Command) (TransmissionRequest, error) {
	protocol := s.config.DefaultProtocol()
	if cmd.Protocol != "" {
		id, ok := ProtocolByName(cmd.Protocol)
		if !ok {
			return TransmissionRequest{}, NewAudioError("unknown protocol: "+cmd.Protocol, ErrCodeInvalidRequest)
		}
		protocol = id
	}
	volume := s.config.Volume
	if cmd.Volume != nil {
		volume = *cmd.Volume
	}
	return NewTransmissionRequest(cmd.Text, protocol, volume, cmd.SpeakerMode || s.config.SpeakerMode)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  ErrorCode(err),
	})
}

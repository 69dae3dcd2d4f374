// Package websocket pushes live channel metrics samples to connected clients.
package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aircast-dev/aircast/internal/metrics"
	"github.com/aircast-dev/aircast/pkg/logger"
)

// SampleSource returns the latest metrics sample for a channel, or false
// if the channel is unknown.
type SampleSource func(channelID string) (metrics.ChannelMetricsSample, bool)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Server upgrades HTTP connections and streams metrics samples over them.
type Server struct {
	source   SampleSource
	interval time.Duration
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn      *websocket.Conn
	channelID string
	done      chan struct{}
}

// NewServer creates a new metrics feed server. Samples are pushed to each
// client every interval.
func NewServer(source SampleSource, interval time.Duration, log *logger.Logger) *Server {
	return &Server{
		source:   source,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  log.Named("ws-server"),
		clients: make(map[*client]struct{}),
	}
}

// ServeChannel upgrades the connection and streams samples for channelID
// until the client disconnects or the server shuts down.
func (s *Server) ServeChannel(w http.ResponseWriter, r *http.Request, channelID string) {
	if _, ok := s.source(channelID); !ok {
		http.Error(w, "channel not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", logger.Error(err))
		return
	}

	c := &client{
		conn:      conn,
		channelID: channelID,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("Client connected",
		logger.String("channel_id", channelID),
		logger.String("remote_addr", r.RemoteAddr))

	go s.readPump(c)
	go s.writePump(c)
}

// readPump discards inbound messages and detects client disconnects.
func (s *Server) readPump(c *client) {
	defer s.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Client read error", logger.Error(err))
			}
			return
		}
	}
}

// writePump pushes the channel's latest sample at the configured interval.
func (s *Server) writePump(c *client) {
	sampleTicker := time.NewTicker(s.interval)
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		sampleTicker.Stop()
		pingTicker.Stop()
		s.removeClient(c)
	}()

	for {
		select {
		case <-c.done:
			return
		case <-sampleTicker.C:
			sample, ok := s.source(c.channelID)
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(sample); err != nil {
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.done)
	}
	s.mu.Unlock()
	c.conn.Close()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown closes all client connections.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		s.removeClient(c)
	}
}

package ws

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/moodlearchiver/internal/domain/download"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/logging"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Message types sent to clients
const (
	TypeJob   = "job"
	TypePong  = "pong"
	TypeError = "error"
)

// Message is the envelope of every frame sent to a client
type Message struct {
	Type      string        `json:"type"`
	Job       *download.Job `json:"job,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

type request struct {
	Type string `json:"type"`
}

// Handler streams download job snapshots over WebSocket
type Handler struct {
	orchestrator *download.Orchestrator
	logger       *logging.Logger
	metrics      *monitoring.Metrics
	upgrader     websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. Browser pages may connect from
// the API's own origin or from one of allowedOrigins; a "*" entry is not
// honoured here.
func NewHandler(orchestrator *download.Orchestrator, logger *logging.Logger, metrics *monitoring.Metrics, allowedOrigins []string) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		orchestrator: orchestrator,
		logger:       logger.Named("ws"),
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

// originChecker admits requests without an Origin header (non-browser
// clients), same-origin pages, and exactly listed origins
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// HandleConnection upgrades the request and streams job snapshots until the
// client goes away. Clients may send {"type":"ping"} or {"type":"current"}.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("origin", c.GetHeader("Origin")),
			zap.Error(err),
		)
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	jobs, cancel := h.orchestrator.Subscribe()
	defer cancel()

	var writeMu sync.Mutex
	send := func(msg Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		msg.Timestamp = time.Now().Unix()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readLoop(conn, send)
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := send(Message{Type: TypeJob, Job: &job}); err != nil {
				h.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) readLoop(conn *websocket.Conn, send func(Message) error) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		var err error
		switch req.Type {
		case "ping":
			err = send(Message{Type: TypePong})
		case "current":
			job := h.orchestrator.Current()
			err = send(Message{Type: TypeJob, Job: &job})
		default:
			err = send(Message{Type: TypeError, Error: "unknown message type"})
		}
		if err != nil {
			return
		}
	}
}

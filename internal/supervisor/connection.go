// Package supervisor implements the Connection Supervisor: WebSocket
// accept/upgrade, per-socket read/write goroutines with a bounded
// outbound queue, heartbeat, and the close-time cleanup that detaches a
// socket from every session, token, and admin-identity registry it
// touched.
package supervisor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicebridge/hub/internal/adminidentity"
	"github.com/voicebridge/hub/internal/identity"
	"github.com/voicebridge/hub/internal/observability"
	"github.com/voicebridge/hub/internal/protocol"
	"github.com/voicebridge/hub/internal/router"
	"github.com/voicebridge/hub/internal/security"
	"github.com/voicebridge/hub/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 1 << 20
	outboundBuffer = 256
)

type conn struct {
	ws       *websocket.Conn
	outbound chan any
}

// Supervisor owns the live connection registry and the upgrade handler.
type Supervisor struct {
	router   *router.Router
	sessions *session.Manager
	tokens   *identity.TokenStore
	admins   *adminidentity.Manager
	sec      *security.Middleware
	metrics  *observability.Metrics
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
}

// New builds a Supervisor. allowAnyOrigin should only be set for local
// development; production deployments terminate TLS and restrict Origin
// upstream of this process. When it is unset the upgrader applies
// gorilla/websocket's default same-origin check.
func New(r *router.Router, sessions *session.Manager, tokens *identity.TokenStore, admins *adminidentity.Manager, sec *security.Middleware, metrics *observability.Metrics, log *zap.Logger, allowAnyOrigin bool) *Supervisor {
	var checkOrigin func(*http.Request) bool
	if allowAnyOrigin {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Supervisor{
		router:   r,
		sessions: sessions,
		tokens:   tokens,
		admins:   admins,
		sec:      sec,
		metrics:  metrics,
		log:      log,
		conns:    make(map[string]*conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Send implements broadcast.Sender and router's outbound delivery,
// queueing v for socketID without blocking the caller. A full queue or
// missing socket is reported as an error so callers skip rather than
// stall on a slow or gone recipient.
func (s *Supervisor) Send(socketID string, v any) error {
	s.mu.RLock()
	c, ok := s.conns[socketID]
	s.mu.RUnlock()
	if !ok {
		return errSocketGone
	}
	select {
	case c.outbound <- v:
		return nil
	default:
		return errOutboundFull
	}
}

// HandleWS upgrades the request and runs the connection until it closes.
func (s *Supervisor) HandleWS(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	if blocked, retryAfter := s.sec.IsBlocked(remoteAddr); blocked {
		w.Header().Set("Retry-After", retryAfter.String())
		http.Error(w, "too many failed attempts", http.StatusTooManyRequests)
		return
	}
	if ok, _ := s.sec.AllowConnection(remoteAddr); !ok {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	socketID := newSocketID()
	c := &conn{ws: ws, outbound: make(chan any, outboundBuffer)}

	s.mu.Lock()
	s.conns[socketID] = c
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go s.writeLoop(ctx, cancel, socketID, c, writerDone)
	s.readLoop(ctx, cancel, socketID, remoteAddr, c)

	<-writerDone
	s.cleanup(socketID)
}

func (s *Supervisor) readLoop(ctx context.Context, cancel context.CancelFunc, socketID, remoteAddr string, c *conn) {
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			cancel()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		rc := router.RequestContext{SocketID: socketID, RemoteAddr: remoteAddr}
		responses := s.router.Dispatch(ctx, rc, data)
		for _, resp := range responses {
			select {
			case c.outbound <- resp:
			default:
				if s.metrics != nil {
					s.metrics.ObserveWSWriteError("outbound_full")
				}
			}
		}
	}
}

func (s *Supervisor) writeLoop(ctx context.Context, cancel context.CancelFunc, socketID string, c *conn, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
				return
			}
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				if s.metrics != nil {
					s.metrics.ObserveWSWriteError("write_json")
				}
				cancel()
				return
			}
			if s.metrics != nil {
				s.metrics.ObserveWSMessage("outbound", string(protocol.TypeOf(msg)))
			}
		}
	}
}

func (s *Supervisor) cleanup(socketID string) {
	s.mu.Lock()
	delete(s.conns, socketID)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveConnections.Dec()
	}

	s.sessions.LeaveAllSessions(socketID)
	s.sessions.DetachAdminSocket(socketID)
	s.admins.Detach(socketID)
	s.tokens.Remove(socketID)
}

// ActiveConnections returns the number of currently registered sockets,
// for /health.
func (s *Supervisor) ActiveConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

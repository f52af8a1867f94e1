// Package signaling implements the WebSocket transport that carries the
// JSON frame protocol between participant clients and a session.Manager.
//
// Grounded on the teacher's HTTP peer-broadcast idiom
// (pkg/batch/peer_manager.go's HTTPPeerManager: an RWMutex-guarded
// registry, copy-out accessors, nil-defaulted *log.Logger) generalized
// from outbound-only HTTP peer calls to a bidirectional per-connection
// read/write-pump architecture, the shape gorilla/websocket examples (and
// the rest of the pack) use for this kind of fan-out server.
package signaling

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/certen/independant-validator/pkg/audit"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/session"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/timer"
)

const (
	authTimeout     = 10 * time.Second
	pingInterval    = 25 * time.Second
	pongGracePeriod = 2 * pingInterval

	defaultReconnectionWindow = 60 * time.Second
	defaultOutboundQueueSize  = 256

	closeNormal         = 1000
	closeShutdown       = 1001
	closeSessionExpired = 4000
	closeAuthTimeout    = 4001
	closeIdle           = 4002
	closeSlowConsumer   = 4003
	closeCancelled      = 4010
)

// Server is the SignalingServer: it upgrades incoming HTTP connections to
// WebSocket, authenticates each against a session.Manager, and fans out
// domain events as wire frames. It implements session.OnSessionEvent.
type Server struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	audit    audit.Sink
	timers   *timer.Controller
	logger   *log.Logger

	reconnectionWindow time.Duration
	outboundQueueSize  int

	mu    sync.RWMutex
	conns map[string]map[*conn]bool // sessionID -> connection set
}

// Config configures a Server.
type Config struct {
	Manager *session.Manager
	Metrics *metrics.Metrics
	// Audit receives a Receipt whenever a session reaches a terminal
	// status. Nil defaults to audit.NoopSink{}.
	Audit audit.Sink
	// Timers owns every keep-alive, AUTH-timeout, and reconnection-window
	// timer the server schedules, so TimerController.CancelAll deterministically
	// tears all of them down on shutdown. Nil gets its own private
	// Controller (only exercised by tests that don't care about shutdown
	// ordering).
	Timers *timer.Controller
	// ReconnectionWindow is how long the participant:<id>:reconnect timer
	// runs after a participant disconnects. Its expiry does not cancel the
	// session. Zero defaults to defaultReconnectionWindow.
	ReconnectionWindow time.Duration
	// OutboundQueueSize bounds each connection's outbound frame buffer
	// before it's treated as a slow consumer and disconnected. Zero
	// defaults to defaultOutboundQueueSize.
	OutboundQueueSize int
	Logger            *log.Logger
	// CheckOrigin is forwarded to the underlying websocket.Upgrader. Nil
	// accepts every origin, matching the teacher's permissive default for
	// its internal peer HTTP calls.
	CheckOrigin func(r *http.Request) bool
}

// New builds a Server and binds it as cfg.Manager's OnSessionEvent sink —
// the construction cycle (Manager needs an event sink; Server needs a
// Manager to call into) is broken by building the Manager first with a
// provisional NoopEvents sink, then rewiring it here once the Server
// exists.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[SignalingServer] ", log.LstdFlags)
	}
	auditSink := cfg.Audit
	if auditSink == nil {
		auditSink = audit.NoopSink{}
	}
	timers := cfg.Timers
	if timers == nil {
		timers = timer.New(logger)
	}
	reconnectionWindow := cfg.ReconnectionWindow
	if reconnectionWindow <= 0 {
		reconnectionWindow = defaultReconnectionWindow
	}
	outboundQueueSize := cfg.OutboundQueueSize
	if outboundQueueSize <= 0 {
		outboundQueueSize = defaultOutboundQueueSize
	}
	s := &Server{
		manager:            cfg.Manager,
		metrics:            cfg.Metrics,
		audit:              auditSink,
		timers:             timers,
		logger:             logger,
		reconnectionWindow: reconnectionWindow,
		outboundQueueSize:  outboundQueueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		conns: make(map[string]map[*conn]bool),
	}
	if cfg.Manager != nil {
		cfg.Manager.SetEvents(s)
	}
	return s
}

// conn is one accepted WebSocket connection, bound to a session (and, after
// AUTH succeeds, a participant) for its lifetime.
type conn struct {
	id            string
	ws            *websocket.Conn
	sessionID     string
	participantID string
	publicKey     string

	out       chan Frame
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *conn) send(f Frame) bool {
	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// ServeHTTP upgrades the request and runs the connection's read/write pumps
// until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade failed: %v", err)
		return
	}
	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsActive.Inc()
	}

	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		out:    make(chan Frame, s.outboundQueueSize),
		closed: make(chan struct{}),
	}

	go s.writePump(c)
	s.readPump(c)

	if s.metrics != nil {
		s.metrics.ConnectionsActive.Dec()
	}
}

func (s *Server) writePump(c *conn) {
	pingName := "conn:" + c.id + ":ping"
	pingDue := make(chan struct{}, 1)
	pingID, _ := s.timers.ScheduleInterval(pingInterval, pingName, func() {
		select {
		case pingDue <- struct{}{}:
		default:
		}
	})
	s.reportTimerPopulation()
	defer s.reportTimerPopulation()
	defer s.timers.Cancel(pingID)
	defer c.close()

	for {
		select {
		case f, ok := <-c.out:
			if !ok {
				return
			}
			raw, err := json.Marshal(f)
			if err != nil {
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-pingDue:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (s *Server) readPump(c *conn) {
	defer s.handleDisconnect(c)

	c.ws.SetReadDeadline(time.Now().Add(pongGracePeriod))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongGracePeriod))
		return nil
	})

	authDue := make(chan struct{}, 1)
	authTimerID, _ := s.timers.ScheduleOnce(authTimeout, "conn:"+c.id+":auth-timeout", func() {
		select {
		case authDue <- struct{}{}:
		default:
		}
	})
	s.reportTimerPopulation()
	authed := make(chan struct{})

	go func() {
		defer s.reportTimerPopulation()
		defer s.timers.Cancel(authTimerID)
		select {
		case <-authDue:
			if c.sessionID == "" {
				c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(closeAuthTimeout, "auth timeout"),
					time.Now().Add(time.Second))
				c.close()
			}
		case <-authed:
		case <-c.closed:
		}
	}()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Two consecutive missed PONGs expired the read deadline:
				// this is the keep-alive-idle close, code 4002.
				c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(closeIdle, "keep-alive timeout"),
					time.Now().Add(time.Second))
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.send(mustFrame(TypeError, errorPayload{Code: "UNKNOWN_MESSAGE", Message: "malformed frame"}))
			continue
		}

		if c.sessionID == "" && f.Type != TypeAuth {
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeAuthTimeout, "first frame must be AUTH"),
				time.Now().Add(time.Second))
			c.close()
			return
		}

		switch f.Type {
		case TypeAuth:
			if c.sessionID != "" {
				continue
			}
			if s.handleAuth(c, f) {
				close(authed)
			}
		case TypeParticipantReady:
			s.handleParticipantReady(c, f)
		case TypeSignatureSubmit:
			s.handleSignatureSubmit(c, f)
		case TypeTransactionRejected:
			s.handleTransactionRejected(c, f)
		case TypePing:
			c.send(Frame{Type: TypePong})
		default:
			c.send(mustFrame(TypeError, errorPayload{Code: "UNKNOWN_MESSAGE", Message: "unrecognized frame type " + f.Type}))
		}
	}
}

func (s *Server) handleAuth(c *conn, f Frame) bool {
	var p authPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		c.send(mustFrame(TypeAuthFailed, authFailedPayload{Message: "malformed auth frame"}))
		c.close()
		return false
	}

	// A participant reconnecting inside the window sends AUTH again; the
	// manager is agnostic to reconnection and admits it as a new
	// participant with a fresh participant_id, while signatures already on
	// file stay counted because they are keyed by public key.
	//
	// The failure message is deliberately generic — spec.md requires that
	// AUTH_FAILED carry no data revealing which field (unknown session vs.
	// wrong PIN vs. wrong status) caused the failure.
	participantID, view, err := s.manager.Authenticate(p.SessionID, p.PIN, p.Role, p.Label)
	if err != nil {
		c.send(mustFrame(TypeAuthFailed, authFailedPayload{Message: "authentication failed"}))
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeAuthTimeout, "auth failed"),
			time.Now().Add(time.Second))
		c.close()
		return false
	}

	c.sessionID = p.SessionID
	c.participantID = participantID
	s.register(c)
	s.cancelReconnectTimer(participantID)

	c.send(mustFrame(TypeAuthSuccess, authSuccessPayload{
		ParticipantID: participantID,
		SessionInfo:   toSessionInfo(view),
	}))
	return true
}

func (s *Server) handleParticipantReady(c *conn, f Frame) {
	var p participantReadyPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return
	}
	c.publicKey = p.PublicKey
	if _, _, _, err := s.manager.SetReady(c.sessionID, c.participantID, p.PublicKey); err != nil {
		c.send(mustFrame(TypeError, errorPayload{Code: string(errCode(err)), Message: err.Error()}))
	}
}

func (s *Server) handleSignatureSubmit(c *conn, f Frame) {
	var p signatureSubmitPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return
	}
	_, _, err := s.manager.SubmitSignature(c.sessionID, c.participantID, p.PublicKey, p.Signature)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SignaturesRejected.Inc()
		}
		c.send(mustFrame(TypeSignatureRejected, signatureRejectedPayload{
			PublicKey: p.PublicKey,
			Code:      string(errCode(err)),
			Message:   err.Error(),
		}))
		return
	}
	if s.metrics != nil {
		s.metrics.SignaturesAccepted.Inc()
	}
}

func (s *Server) handleTransactionRejected(c *conn, f Frame) {
	var p transactionRejectedPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return
	}
	if _, err := s.manager.RejectTransaction(c.sessionID, c.participantID, p.Reason); err != nil {
		c.send(mustFrame(TypeError, errorPayload{Code: string(errCode(err)), Message: err.Error()}))
	}
}

func (s *Server) handleDisconnect(c *conn) {
	c.close()
	s.unregister(c)
	if c.sessionID == "" || c.participantID == "" {
		return
	}
	s.manager.MarkDisconnected(c.sessionID, c.participantID)
	s.startReconnectTimer(c.sessionID, c.participantID)
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.conns[c.sessionID]
	if !ok {
		set = make(map[*conn]bool)
		s.conns[c.sessionID] = set
	}
	set[c] = true
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.conns[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(s.conns, c.sessionID)
		}
	}
}

// reconnectTimerName is shared by startReconnectTimer and
// cancelReconnectTimer so the latter can cancel by exact name without
// holding any state of its own — TimerController is the only bookkeeping
// for the reconnection window.
func reconnectTimerName(participantID string) string {
	return "participant:" + participantID + ":reconnect"
}

// startReconnectTimer runs a timer for reconnectionWindow after a
// participant disconnects; when it expires, the session is left to expire
// or cancel on its own via sessionManager's own timers. A reconnecting
// AUTH is issued a new participant_id, so it does not cancel the old
// participant's timer.
func (s *Server) startReconnectTimer(sessionID, participantID string) {
	s.timers.CancelByPrefix(reconnectTimerName(participantID))
	s.timers.ScheduleOnce(s.reconnectionWindow, reconnectTimerName(participantID), func() {
		s.reportTimerPopulation()
	})
	s.reportTimerPopulation()
}

func (s *Server) cancelReconnectTimer(participantID string) {
	s.timers.CancelByPrefix(reconnectTimerName(participantID))
	s.reportTimerPopulation()
}

// broadcast fans a frame out to every connection bound to sessionID,
// closing any connection whose outbound queue is already full (a slow
// consumer) with code 4003 rather than letting it block the fan-out.
func (s *Server) broadcast(sessionID string, f Frame) {
	s.mu.RLock()
	set := s.conns[sessionID]
	targets := make([]*conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if s.metrics != nil {
			s.metrics.BroadcastsTotal.Inc()
		}
		if !c.send(f) {
			if s.metrics != nil {
				s.metrics.BroadcastFailuresTotal.Inc()
				s.metrics.SlowConsumerDisconnect.Inc()
			}
			s.logger.Printf("session %s: disconnecting slow consumer", sessionID)
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeSlowConsumer, "slow consumer"),
				time.Now().Add(time.Second))
			c.close()
			s.unregister(c)
		}
	}
}

// recordOutcome builds a Receipt from view and hands it to the configured
// audit sink. Called once per session, right before closeSession, from each
// of the four terminal OnSessionEvent callbacks. Runs with its own bounded
// context rather than borrowing one from the caller, since none of those
// callbacks carry one.
func (s *Server) recordOutcome(view store.View, outcome audit.Outcome, transactionID, failureReason string) {
	signers := make([]string, 0, len(view.Signatures))
	for k := range view.Signatures {
		signers = append(signers, k)
	}
	sort.Strings(signers)

	checksum := ""
	if view.TxDetails != nil {
		checksum = view.TxDetails.FullChecksum
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.audit.Record(ctx, audit.Receipt{
		SessionID:     view.SessionID,
		Outcome:       outcome,
		Threshold:     view.Threshold,
		Signers:       signers,
		TxChecksum:    checksum,
		TransactionID: transactionID,
		FailureReason: failureReason,
		CreatedAt:     view.CreatedAt,
		ClosedAt:      time.Now(),
	}); err != nil {
		s.logger.Printf("session %s: audit record failed: %v", view.SessionID, err)
	}
}

// reportTimerPopulation refreshes the TimersActive gauge from the shared
// TimerController's current count, mirroring session.Manager's own refresh
// after its schedule/cancel calls against the same controller.
func (s *Server) reportTimerPopulation() {
	if s.metrics == nil {
		return
	}
	stats := s.timers.Stats()
	s.metrics.TimersActive.Set(float64(stats.CountOnce + stats.CountInterval))
}

func errCode(err error) session.Code {
	if se, ok := err.(*session.Error); ok {
		return se.Code
	}
	return session.CodeUnknownMessage
}

// closeSession closes every connection currently attached to sessionID with
// the given application close code, then drops the session's connection
// set — called after a terminal broadcast (TRANSACTION_EXECUTED,
// SESSION_EXPIRED, or a cancellation) per spec.md §3's destruction rule
// that a terminal session closes every attached connection.
func (s *Server) closeSession(sessionID string, code int, reason string) {
	s.mu.Lock()
	set := s.conns[sessionID]
	targets := make([]*conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	delete(s.conns, sessionID)
	s.mu.Unlock()

	for _, c := range targets {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		c.close()
	}
}

// Shutdown stops accepting new traffic on every open connection: it closes
// every connection across every session with code 1001, per spec.md §5's
// graceful-shutdown sequence (the caller is expected to have already
// stopped accepting new connections and cancelled every timer via
// TimerController.CancelAll before calling this).
func (s *Server) Shutdown() {
	s.mu.Lock()
	var all []*conn
	for _, set := range s.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	s.conns = make(map[string]map[*conn]bool)
	s.mu.Unlock()

	for _, c := range all {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeShutdown, "server shutting down"),
			time.Now().Add(time.Second))
		c.close()
	}
}

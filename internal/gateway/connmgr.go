package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/good-yellow-bee/agentwatch/internal/metrics"
)

// ConnState represents the push connection state.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAwaitingAuth
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the minimal wire surface the manager needs from a connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a push connection to the gateway.
type Dialer func(ctx context.Context, url string) (Conn, error)

// FrameHandler consumes inbound frames that are not part of the handshake.
type FrameHandler interface {
	HandleFrame(ctx context.Context, f *Frame)
}

// ConnManagerConfig configures the connection manager.
type ConnManagerConfig struct {
	URL           string
	Token         string
	ClientID      string
	ClientVersion string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PollInterval   time.Duration // session poll cadence while connected
}

// ConnManager owns the single live push connection: handshake,
// authentication, reconnection with backoff, and session-poll scheduling.
// Only one connection attempt is live at a time; the next attempt is
// scheduled exclusively from the close/error path.
type ConnManager struct {
	cfg     ConnManagerConfig
	backoff *Backoff
	handler FrameHandler
	poll    func(ctx context.Context) // nil = no session polling

	dial  Dialer
	sleep func(ctx context.Context, d time.Duration) error

	state   atomic.Int32
	connID  atomic.Int64
	verbose bool

	mu   sync.Mutex
	conn Conn
}

// NewConnManager creates a connection manager. poll may be nil.
func NewConnManager(cfg ConnManagerConfig, handler FrameHandler, poll func(ctx context.Context)) *ConnManager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	m := &ConnManager{
		cfg:     cfg,
		backoff: NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		handler: handler,
		poll:    poll,
		dial:    gorillaDial,
		sleep:   realSleep,
	}
	m.state.Store(int32(StateClosed))
	return m
}

// SetVerbose enables verbose logging.
func (m *ConnManager) SetVerbose(v bool) {
	m.verbose = v
}

// State returns the current connection state.
func (m *ConnManager) State() ConnState {
	return ConnState(m.state.Load())
}

// IsConnected reports whether the connection is authenticated and live.
func (m *ConnManager) IsConnected() bool {
	return m.State() == StateConnected
}

// ConnID returns the id of the most recent connection attempt. Ids increase
// monotonically; each reconnect replaces the session entirely.
func (m *ConnManager) ConnID() int64 {
	return m.connID.Load()
}

// Run connects and keeps reconnecting until the context is canceled. Every
// close or error path waits out the current backoff delay before the next
// attempt; the delay doubles up to the cap and resets only after a
// successful authentication.
func (m *ConnManager) Run(ctx context.Context) error {
	for {
		err := m.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := m.backoff.Next()
		metrics.ReconnectsTotal.Inc()
		m.logf("connection closed: %v, reconnecting in %v", err, delay)
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// runConnection performs one full connection lifecycle: dial, handshake,
// frame loop. It returns when the connection is closed for any reason.
func (m *ConnManager) runConnection(ctx context.Context) error {
	id := m.connID.Add(1)
	m.setState(StateConnecting)
	defer m.setState(StateClosed)

	conn, err := m.dial(ctx, m.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// Unblocks ReadMessage when the context is canceled.
		<-connCtx.Done()
		conn.Close()
	}()

	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
	}()

	m.logf("conn %d: dialed %s", id, m.cfg.URL)

	pollStarted := false
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("malformed frame: %w", err)
		}

		switch {
		case frame.Type == FrameEvent && frame.Name == EventChallenge:
			req, err := connectFrame(m.cfg.ClientID, m.cfg.ClientVersion, m.cfg.Token)
			if err != nil {
				return fmt.Errorf("build connect request: %w", err)
			}
			if err := conn.WriteJSON(req); err != nil {
				return fmt.Errorf("send connect request: %w", err)
			}
			m.setState(StateAwaitingAuth)
			m.logf("conn %d: challenge received, connect request sent", id)

		case frame.Type == FrameRes && frame.ID == authRequestID:
			if !frame.OK {
				return fmt.Errorf("authentication rejected: %s", frame.Error)
			}
			m.setState(StateConnected)
			m.backoff.Reset()
			m.logf("conn %d: authenticated", id)
			if m.poll != nil && !pollStarted {
				pollStarted = true
				go m.pollLoop(connCtx)
			}

		default:
			m.handler.HandleFrame(ctx, &frame)
		}
	}
}

// pollLoop drives the periodic session poll while this connection lives.
func (m *ConnManager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// Close tears down the live connection, if any.
func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

func (m *ConnManager) setState(state ConnState) {
	m.state.Store(int32(state))
}

func (m *ConnManager) logf(format string, args ...any) {
	if m.verbose {
		log.Printf("[connmgr] "+format, args...)
	}
}

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *gorillaConn) WriteJSON(v any) error {
	return c.conn.WriteJSON(v)
}

func (c *gorillaConn) Close() error {
	return c.conn.Close()
}

func gorillaDial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{conn: conn}, nil
}

package messaging

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/mfshop/storefront/internal/infrastructure/logger"
	"github.com/mfshop/storefront/internal/infrastructure/origin"
	"go.uber.org/zap"
)

const (
	// WebSocketPath is where an application accepts counterpart connections
	WebSocketPath = "/ws"

	maxMessageSize      = 1 << 20
	defaultWriteTimeout = 10 * time.Second
)

// WebSocketURL derives the WebSocket endpoint of the application served at
// baseURL
func WebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, baseURL)
	}
	u.Path = WebSocketPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// peerConn is the connection to one counterpart, shared by the server and
// client transports. At most one connection is current; a new one replaces
// the old.
type peerConn struct {
	peerOrigin   string
	writeTimeout time.Duration
	logger       *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	handler   Handler
	onConnect []func(ctx context.Context)
	closed    bool

	writeMu sync.Mutex
}

func newPeerConn(peerOrigin string, writeTimeout time.Duration, l *zap.Logger) *peerConn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &peerConn{
		peerOrigin:   peerOrigin,
		writeTimeout: writeTimeout,
		logger:       l.With(zap.String("peer_origin", peerOrigin)),
	}
}

// Post writes msg to the current connection
func (p *peerConn) Post(ctx context.Context, msg Message, targetOrigin string) error {
	p.mu.Lock()
	closed, conn := p.closed, p.conn
	p.mu.Unlock()

	if closed {
		return ErrTransportClosed
	}
	if !originMatches(targetOrigin, p.peerOrigin) {
		return nil
	}
	if conn == nil {
		return ErrCounterpartUnavailable
	}

	data, err := Encode(msg)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	deadline := time.Now().Add(p.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	err = conn.WriteMessage(websocket.TextMessage, data)
	p.writeMu.Unlock()

	if err != nil {
		p.detach(conn)
		return fmt.Errorf("%w: %v", ErrCounterpartUnavailable, err)
	}
	return nil
}

// Listen installs the inbound handler
func (p *peerConn) Listen(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// OnConnect registers fn to run on every new connection
func (p *peerConn) OnConnect(fn func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = append(p.onConnect, fn)
}

// Connected reports whether a connection is current
func (p *peerConn) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// serve makes conn current, runs the connect hooks and reads until the
// connection fails
func (p *peerConn) serve(ctx context.Context, conn *websocket.Conn) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	old := p.conn
	p.conn = conn
	hooks := make([]func(context.Context), len(p.onConnect))
	copy(hooks, p.onConnect)
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	conn.SetReadLimit(maxMessageSize)
	p.logger.Info("Counterpart connected")

	ctx = logger.WithPeerOrigin(ctx, p.peerOrigin)
	for _, fn := range hooks {
		fn(ctx)
	}

	source := ReplierFunc(p.Post)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Warn("Counterpart connection lost", zap.Error(err))
			} else {
				p.logger.Info("Counterpart disconnected")
			}
			p.detach(conn)
			return
		}

		p.mu.Lock()
		h := p.handler
		p.mu.Unlock()
		if h == nil {
			continue
		}
		h(ctx, Envelope{Data: data, Origin: p.peerOrigin, Source: source})
	}
}

func (p *peerConn) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// detach drops conn if it is still current
func (p *peerConn) detach(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
	_ = conn.Close()
}

// Close closes the current connection and rejects further posts
func (p *peerConn) Close() error {
	p.mu.Lock()
	p.closed = true
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	p.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "closing"),
		time.Now().Add(time.Second))
	p.writeMu.Unlock()
	return conn.Close()
}

// WebSocketHub accepts connections from embedded counterparts. Each
// counterpart is registered as a link keyed by its origin; the handshake's
// Origin header selects the link and must be on the allowlist.
type WebSocketHub struct {
	allowlist    *origin.Allowlist
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *zap.Logger

	mu    sync.RWMutex
	links map[string]*WebSocketLink
}

// NewWebSocketHub creates a hub
func NewWebSocketHub(allowlist *origin.Allowlist, writeTimeout time.Duration, l *zap.Logger) *WebSocketHub {
	if l == nil {
		l = zap.NewNop()
	}
	return &WebSocketHub{
		allowlist:    allowlist,
		writeTimeout: writeTimeout,
		logger:       l.Named("ws-hub"),
		links:        make(map[string]*WebSocketLink),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin is checked in ServeHTTP before upgrading
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Link returns the transport for the counterpart at peerOrigin, creating it
// on first use
func (h *WebSocketHub) Link(peerOrigin string) (*WebSocketLink, error) {
	normalized, err := origin.Normalize(peerOrigin)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.links[normalized]; ok {
		return l, nil
	}
	l := &WebSocketLink{peerConn: newPeerConn(normalized, h.writeTimeout, h.logger)}
	h.links[normalized] = l
	return l, nil
}

// ServeHTTP upgrades counterpart connections
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get("Origin")
	if !h.allowlist.Allows(raw) {
		h.logger.Debug("Rejected WebSocket handshake from untrusted origin", zap.String("origin", raw))
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	normalized, _ := origin.Normalize(raw)

	h.mu.RLock()
	link, ok := h.links[normalized]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("No counterpart registered for origin", zap.String("origin", normalized))
		http.Error(w, "no counterpart registered for origin", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response
		h.logger.Warn("WebSocket upgrade failed", zap.String("origin", normalized), zap.Error(err))
		return
	}
	link.serve(r.Context(), conn)
}

// Close closes every link
func (h *WebSocketHub) Close() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, l := range h.links {
		_ = l.Close()
	}
	return nil
}

// WebSocketLink is the hub side transport to one counterpart
type WebSocketLink struct {
	*peerConn
}

// WebSocketClientConfig configures a WebSocketClient
type WebSocketClientConfig struct {
	// URL is the counterpart's WebSocket endpoint
	URL string
	// Origin is this application's origin, sent in the handshake
	Origin string
	// PeerOrigin is the counterpart's origin, stamped on inbound messages
	PeerOrigin   string
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	WriteTimeout time.Duration
}

// WebSocketClient is the embedded side transport. It dials the parent and
// redials with exponential backoff whenever the connection drops.
type WebSocketClient struct {
	*peerConn
	cfg    WebSocketClientConfig
	dialer *websocket.Dialer

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWebSocketClient creates a client; call Run to connect
func NewWebSocketClient(cfg WebSocketClientConfig, l *zap.Logger) *WebSocketClient {
	if l == nil {
		l = zap.NewNop()
	}
	return &WebSocketClient{
		peerConn: newPeerConn(cfg.PeerOrigin, cfg.WriteTimeout, l.Named("ws-client")),
		cfg:      cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		done: make(chan struct{}),
	}
}

// Run dials and serves the connection until ctx is cancelled or Close is
// called. It returns at once on a closed client.
func (c *WebSocketClient) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
	defer close(c.done)
	defer cancel()

	retry := backoff.Backoff{
		Min:    c.cfg.MinBackoff,
		Max:    c.cfg.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	header := http.Header{}
	header.Set("Origin", c.cfg.Origin)

	for {
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header) //nolint:bodyclose
		if err != nil {
			wait := retry.Duration()
			c.logger.Debug("Dial failed, retrying",
				zap.String("url", c.cfg.URL),
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		served := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				c.detach(conn)
			case <-served:
			}
		}()
		c.serve(ctx, conn)
		close(served)
	}
}

// Close stops the dial loop and closes the connection
func (c *WebSocketClient) Close() error {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()

	err := c.peerConn.Close()
	if cancel != nil {
		cancel()
		<-c.done
	}
	return err
}

var (
	_ Transport       = (*WebSocketLink)(nil)
	_ ConnectNotifier = (*WebSocketLink)(nil)
	_ Transport       = (*WebSocketClient)(nil)
	_ ConnectNotifier = (*WebSocketClient)(nil)
)

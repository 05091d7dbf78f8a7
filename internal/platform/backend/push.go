package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/market"
	"github.com/gorilla/websocket"
)

// EventMarketUpdate carries one changed market document.
const EventMarketUpdate = "market:update"

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeWait bounds the engine.io open and socket.io connect exchange.
	handshakeWait = 15 * time.Second

	// defaultPingWindow is used when the server omits its ping settings.
	defaultPingWindow = 45 * time.Second
)

// Engine.io and socket.io packet prefixes used on the default namespace.
const (
	packetOpen         = "0"
	packetClose        = "1"
	packetPing         = "2"
	packetPong         = "3"
	packetConnect      = "40"
	packetDisconnect   = "41"
	packetEvent        = "42"
	packetConnectError = "44"
)

// MarketUpdateHandler receives each pushed market document.
type MarketUpdateHandler func(market.Raw)

type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// SocketURL derives the push endpoint from the REST base: the /api suffix
// is dropped and the socket.io websocket path appended.
func SocketURL(apiBase string) (string, error) {
	base := strings.TrimRight(apiBase, "/")
	if strings.HasSuffix(base, "/api") {
		base = strings.TrimRight(strings.TrimSuffix(base, "/api"), "/")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("backend: parse api base %q: %w", apiBase, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("backend: unsupported api base scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	u.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	return u.String(), nil
}

// PushClient is a socket.io client for the backend's market update
// stream. One PushClient serves one connection; callers reconnect by
// creating a new client.
type PushClient struct {
	wsURL string
	conn  *websocket.Conn

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  []MarketUpdateHandler

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// NewPushClient creates a client for the socket.io endpoint wsURL.
func NewPushClient(wsURL string) *PushClient {
	return &PushClient{wsURL: wsURL, done: make(chan struct{})}
}

// OnMarketUpdate registers a handler for market:update events. Handlers
// run on the read goroutine.
func (p *PushClient) OnMarketUpdate(h MarketUpdateHandler) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Connect dials the endpoint, completes the engine.io and socket.io
// handshakes and starts reading.
func (p *PushClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeWait}
	conn, _, err := dialer.DialContext(ctx, p.wsURL, nil)
	if err != nil {
		return fmt.Errorf("backend/push: connect: %w", err)
	}
	p.conn = conn

	open, err := p.handshake()
	if err != nil {
		conn.Close()
		return fmt.Errorf("backend/push: handshake: %w", err)
	}

	window := defaultPingWindow
	if open.PingInterval > 0 {
		window = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	}
	go p.readLoop(window)
	return nil
}

// Done is closed when the connection ends.
func (p *PushClient) Done() <-chan struct{} { return p.done }

// Err reports why the connection ended.
func (p *PushClient) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Close disconnects from the namespace and closes the socket.
func (p *PushClient) Close() error {
	if p.conn == nil {
		return nil
	}
	_ = p.write(packetDisconnect)
	p.writeMu.Lock()
	_ = p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	p.writeMu.Unlock()
	p.finish(domain.ErrWSDisconnect)
	return p.conn.Close()
}

// handshake waits for the engine.io open packet, joins the default
// namespace and waits for the acknowledgement.
func (p *PushClient) handshake() (openPacket, error) {
	p.conn.SetReadDeadline(time.Now().Add(handshakeWait))
	defer p.conn.SetReadDeadline(time.Time{})

	var open openPacket
	msg, err := p.read()
	if err != nil {
		return open, err
	}
	if !strings.HasPrefix(msg, packetOpen) {
		return open, fmt.Errorf("expected open packet, got %q", msg)
	}
	if err := json.Unmarshal([]byte(msg[len(packetOpen):]), &open); err != nil {
		return open, fmt.Errorf("decode open packet: %w", err)
	}

	if err := p.write(packetConnect); err != nil {
		return open, err
	}
	for {
		msg, err := p.read()
		if err != nil {
			return open, err
		}
		switch {
		case strings.HasPrefix(msg, packetConnectError):
			return open, fmt.Errorf("namespace refused: %s", msg[len(packetConnectError):])
		case strings.HasPrefix(msg, packetConnect):
			return open, nil
		case msg == packetPing:
			if err := p.write(packetPong); err != nil {
				return open, err
			}
		}
	}
}

func (p *PushClient) readLoop(window time.Duration) {
	for {
		p.conn.SetReadDeadline(time.Now().Add(window))
		msg, err := p.read()
		if err != nil {
			p.finish(fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err))
			return
		}

		switch {
		case msg == packetPing:
			if err := p.write(packetPong); err != nil {
				p.finish(fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err))
				return
			}
		case msg == packetClose, msg == packetDisconnect:
			p.finish(domain.ErrWSDisconnect)
			return
		case strings.HasPrefix(msg, packetEvent):
			p.handleEvent([]byte(msg[len(packetEvent):]))
		}
	}
}

// handleEvent dispatches a socket.io event array ["name", payload...].
// Unparseable events are dropped.
func (p *PushClient) handleEvent(data []byte) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil || len(args) < 2 {
		return
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil || name != EventMarketUpdate {
		return
	}
	if trimmed := bytes.TrimSpace(args[1]); len(trimmed) == 0 || trimmed[0] != '{' {
		return
	}
	raw, err := market.DecodeRaw(args[1])
	if err != nil {
		return
	}

	p.handlerMu.RLock()
	handlers := p.handlers
	p.handlerMu.RUnlock()
	for _, h := range handlers {
		h(raw)
	}
}

func (p *PushClient) read() (string, error) {
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (p *PushClient) write(msg string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (p *PushClient) finish(err error) {
	p.closeOnce.Do(func() {
		p.errMu.Lock()
		p.err = err
		p.errMu.Unlock()
		close(p.done)
	})
}

package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/satriadp/lisan/pkg/errorsx"
	"github.com/satriadp/lisan/pkg/session"
	"github.com/satriadp/lisan/pkg/transports"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ReadLimit      int64    `mapstructure:"read_limit"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport serves one voice session per websocket connection. Binary
// messages are inbound audio frames; text messages are the JSON protocol.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	factory  transports.SessionFactory
	manager  *session.Manager
	logger   *slog.Logger

	mu       sync.Mutex
	conns    map[string]*wsConn
	draining atomic.Bool
}

func New(cfg Config, factory transports.SessionFactory, manager *session.Manager, logger *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		cfg:     cfg,
		factory: factory,
		manager: manager,
		logger:  logger.With(slog.String("component", "ws_transport")),
		conns:   make(map[string]*wsConn),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     t.checkOrigin,
	}
	return t
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"addr": t.cfg.ServerAddr,
		"path": t.cfg.WebsocketPath,
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("ws_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for _, c := range t.conns {
		_ = c.close()
	}
	t.conns = make(map[string]*wsConn)
	t.mu.Unlock()
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	raw, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	raw.SetReadLimit(t.cfg.ReadLimit)

	id := uuid.NewString()
	conn := newWSConn(raw)
	t.mu.Lock()
	t.conns[id] = conn
	t.mu.Unlock()

	sess := t.factory(id, conn)
	t.manager.Register(sess)
	sess.Start()
	t.logger.Info("connection_open", slog.String("session_id", id))

	t.readLoop(id, conn, sess)

	t.manager.Deregister(id)
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
	_ = conn.close()
	t.logger.Info("connection_closed", slog.String("session_id", id))
}

func (t *Transport) readLoop(id string, conn *wsConn, sess *session.Session) {
	for {
		kind, msg, err := conn.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("read_error",
					slog.String("session_id", id),
					slog.String("error", err.Error()))
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			sess.HandleBinary(msg)
		case websocket.TextMessage:
			sess.HandleText(msg)
		}
	}
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, allowed := range t.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), host) {
			return true
		}
	}
	return false
}

type outMessage struct {
	binary bool
	data   []byte
}

// wsConn serializes writes through a single pump goroutine. Enqueue never
// blocks the session; a full queue surfaces as a send error instead.
type wsConn struct {
	conn   *websocket.Conn
	sendCh chan outMessage
	closed atomic.Bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn:   conn,
		sendCh: make(chan outMessage, 256),
	}
	go c.loop()
	return c
}

func (c *wsConn) SendText(data []byte) error {
	return c.enqueue(outMessage{data: data})
}

func (c *wsConn) SendBinary(data []byte) error {
	return c.enqueue(outMessage{binary: true, data: data})
}

func (c *wsConn) enqueue(msg outMessage) (err error) {
	if c.closed.Load() {
		return errorsx.New("connection closed", errorsx.ReasonTransportSend)
	}
	// close(sendCh) can land between the flag check and the send; the
	// panic from sending on the closed channel folds into the same error
	defer func() {
		if recover() != nil {
			err = errorsx.New("connection closed", errorsx.ReasonTransportSend)
		}
	}()
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return errorsx.New("send queue full", errorsx.ReasonTransportSend)
	}
}

func (c *wsConn) loop() {
	for msg := range c.sendCh {
		kind := websocket.TextMessage
		if msg.binary {
			kind = websocket.BinaryMessage
		}
		if err := c.conn.WriteMessage(kind, msg.data); err != nil {
			return
		}
	}
}

func (c *wsConn) close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.sendCh)
	}
	return c.conn.Close()
}

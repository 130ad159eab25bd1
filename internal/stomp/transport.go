package stomp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
	"github.com/hrconsole/notifyd/internal/push"
)

const componentName = "stomp"

// Subprotocol is the WebSocket subprotocol offered for STOMP 1.2.
const Subprotocol = "v12.stomp"

// Config holds the broker endpoint settings.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// Host is the STOMP virtual host; defaults to the URL host.
	Host     string
	Login    string
	Passcode string
	// Header is sent with the WebSocket handshake, e.g. the session cookie.
	Header http.Header
	// HeartBeat is both the interval the client sends heart-beats at and
	// the interval it asks the broker for. Zero disables heart-beating.
	HeartBeat      time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// Transport opens STOMP sessions over WebSocket.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
	log    logger.Logger
}

var _ push.Transport = (*Transport)(nil)

// New validates cfg and returns a Transport.
func New(cfg Config, log logger.Logger) (*Transport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, errors.Newf("invalid STOMP endpoint %q", logger.RedactSensitiveData(cfg.URL)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Host == "" {
		cfg.Host = u.Hostname()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewDiscard()
	}

	return &Transport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
			Subprotocols:     []string{Subprotocol},
		},
		log: log.Module(componentName).With(logger.String("endpoint", u.Redacted())),
	}, nil
}

// Name implements push.Transport.
func (t *Transport) Name() string { return "stomp" }

// Connect implements push.Transport: it opens the WebSocket, performs the
// CONNECT handshake and starts the read loop.
func (t *Transport) Connect(ctx context.Context) (push.Session, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		b := errors.New(err).
			Component(componentName).
			Category(errors.CategoryBrokerConnection)
		if resp != nil {
			b = b.Context("status_code", resp.StatusCode)
		}
		return nil, b.Build()
	}

	sendEvery, readWithin, err := t.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &session{
		conn:         conn,
		log:          t.log,
		writeTimeout: t.cfg.WriteTimeout,
		readTimeout:  readWithin,
		subs:         make(map[string]subscription),
		done:         make(chan struct{}),
	}
	s.wg.Go(s.readLoop)
	if sendEvery > 0 {
		s.wg.Go(func() { s.heartbeat(sendEvery) })
	}

	t.log.Debug("connected",
		logger.Duration("send_heartbeat", sendEvery),
		logger.Duration("read_timeout", readWithin))
	return s, nil
}

// handshake sends CONNECT and waits for CONNECTED. It returns the negotiated
// send interval and read deadline.
func (t *Transport) handshake(ctx context.Context, conn *websocket.Conn) (send, read time.Duration, err error) {
	deadline := time.Now().Add(t.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	hb := strconv.FormatInt(t.cfg.HeartBeat.Milliseconds(), 10)
	connect := NewFrame(CmdConnect,
		"accept-version", "1.2",
		"host", t.cfg.Host,
		"heart-beat", hb+","+hb)
	if t.cfg.Login != "" {
		connect.Header.Add("login", t.cfg.Login)
		connect.Header.Add("passcode", t.cfg.Passcode)
	}

	fail := func(err error, reason string) error {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryBrokerConnection).
			Context("stage", reason).
			Build()
	}

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, Marshal(connect)); err != nil {
		return 0, 0, fail(err, "connect")
	}

	// Cancel the blocking read if ctx ends first.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	_ = conn.SetReadDeadline(deadline)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return 0, 0, fail(err, "connected")
		}
		frames, err := Parse(data)
		if err != nil {
			return 0, 0, fail(err, "connected")
		}
		for _, f := range frames {
			switch f.Command {
			case CmdConnected:
				_ = conn.SetReadDeadline(time.Time{})
				send, read = negotiate(t.cfg.HeartBeat, f.Header.Value("heart-beat"))
				return send, read, nil
			case CmdError:
				return 0, 0, fail(brokerError(f), "connected")
			}
		}
	}
}

// negotiate applies the STOMP heart-beat rules to the client interval and
// the broker's "sx,sy" reply. read includes a grace factor of two.
func negotiate(client time.Duration, reply string) (send, read time.Duration) {
	if client <= 0 {
		return 0, 0
	}
	sxs, sys, ok := strings.Cut(reply, ",")
	if !ok {
		return 0, 0
	}
	sx, err1 := strconv.Atoi(strings.TrimSpace(sxs))
	sy, err2 := strconv.Atoi(strings.TrimSpace(sys))
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	if sy > 0 {
		send = max(client, time.Duration(sy)*time.Millisecond)
	}
	if sx > 0 {
		read = 2 * max(client, time.Duration(sx)*time.Millisecond)
	}
	return send, read
}

func brokerError(f Frame) error {
	msg := f.Header.Value("message")
	if msg == "" {
		msg = strings.TrimSpace(string(f.Body))
	}
	return fmt.Errorf("broker error: %s", msg)
}

type subscription struct {
	id      string
	deliver func([]byte)
}

// session is one STOMP connection.
type session struct {
	conn         *websocket.Conn
	log          logger.Logger
	writeTimeout time.Duration
	readTimeout  time.Duration

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]subscription // by destination
	nextID int

	wg        sync.WaitGroup
	closing   atomic.Bool
	done      chan struct{}
	lostOnce  sync.Once
	closeOnce sync.Once
	err       error
}

func (s *session) Subscribe(ctx context.Context, topic string, deliver func([]byte)) error {
	s.mu.Lock()
	s.nextID++
	id := "sub-" + strconv.Itoa(s.nextID)
	s.subs[topic] = subscription{id: id, deliver: deliver}
	s.mu.Unlock()

	err := s.write(ctx, NewFrame(CmdSubscribe,
		"id", id,
		"destination", topic,
		"ack", "auto"))
	if err != nil {
		s.mu.Lock()
		delete(s.subs, topic)
		s.mu.Unlock()
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryBrokerSubscribe).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (s *session) Unsubscribe(ctx context.Context, topic string) error {
	s.mu.Lock()
	sub, ok := s.subs[topic]
	delete(s.subs, topic)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.write(ctx, NewFrame(CmdUnsubscribe, "id", sub.id))
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends DISCONNECT, closes the socket and waits for the session
// goroutines to exit.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		_ = s.write(ctx, NewFrame(CmdDisconnect))
		cancel()

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		_ = s.conn.Close()
		s.lose(nil)
	})
	s.wg.Wait()
	return nil
}

func (s *session) write(ctx context.Context, f Frame) error {
	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, Marshal(f))
}

func (s *session) readLoop() {
	for {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closing.Load() {
				s.lose(nil)
			} else {
				s.lose(err)
			}
			return
		}

		frames, err := Parse(data)
		if err != nil {
			s.log.Warn("dropping malformed frame", logger.Error(err), logger.Int("bytes", len(data)))
			continue
		}
		for _, f := range frames {
			switch f.Command {
			case CmdMessage:
				s.dispatch(f)
			case CmdError:
				s.lose(brokerError(f))
				_ = s.conn.Close()
				return
			case CmdReceipt:
			default:
				s.log.Debug("ignoring frame", logger.String("command", f.Command))
			}
		}
	}
}

func (s *session) dispatch(f Frame) {
	dest := f.Header.Value("destination")
	subID := f.Header.Value("subscription")

	s.mu.Lock()
	sub, ok := s.subs[dest]
	if !ok || (subID != "" && sub.id != subID) {
		ok = false
		for _, candidate := range s.subs {
			if candidate.id == subID {
				sub, ok = candidate, true
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debug("message for unknown subscription",
			logger.String("destination", dest),
			logger.String("subscription", subID))
		return
	}
	sub.deliver(f.Body)
}

func (s *session) heartbeat(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := s.conn.WriteMessage(websocket.TextMessage, []byte("\n"))
			s.writeMu.Unlock()
			if err != nil {
				s.lose(err)
				return
			}
		}
	}
}

func (s *session) lose(err error) {
	s.lostOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("session lost", logger.Error(err))
		}
		close(s.done)
	})
}

package okex

import (
	"bytes"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/tradeforge/okexgw/internal/observability"
	"github.com/tradeforge/okexgw/internal/sign"
)

const (
	wsControlMessageInterval = 200 * time.Millisecond
	wsMaxChannelsPerRequest  = 20
	wsPingInterval           = 20 * time.Second
	wsWriteTimeout           = 5 * time.Second
	wsLoginTimeout           = 10 * time.Second
	wsMaxReconnectInterval   = 20 * time.Second
	wsReadLimit              = 2 * 1024 * 1024
)

// wsEnvelope is the v3 push shape. Control answers carry event/success;
// data pushes carry table plus a record array.
type wsEnvelope struct {
	Event     string            `json:"event"`
	Success   bool              `json:"success"`
	Channel   string            `json:"channel"`
	ErrorCode json.Number       `json:"errorCode"`
	Message   string            `json:"message"`
	Table     string            `json:"table"`
	Data      []json.RawMessage `json:"data"`
}

// wsRequest is a v3 control frame. Login args are credential strings; the
// subscribe args are "channel:instrument" strings.
type wsRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type wsHandler func(table string, data []json.RawMessage)

// wsSession maintains one authenticated v3 websocket connection: dial,
// login, resubscribe, inflate pushed frames and dispatch them. It reconnects
// with exponential backoff until its context is cancelled.
type wsSession struct {
	url    string
	signer *sign.Signer

	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	subsMu   sync.Mutex
	channels map[string]struct{}

	loggedIn chan struct{}
	loginMu  sync.Mutex

	handler wsHandler
	onError func(error)
	onLogin func()

	ready     chan struct{}
	readyOnce sync.Once

	controlMu       sync.Mutex
	lastControlSend time.Time
}

func newWSSession(ctx context.Context, url string, signer *sign.Signer, handler wsHandler, onLogin func(), onError func(error)) *wsSession {
	if url == "" {
		url = WSHost
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	return &wsSession{
		url:      url,
		signer:   signer,
		ctx:      sessionCtx,
		cancel:   cancel,
		channels: make(map[string]struct{}),
		loggedIn: make(chan struct{}),
		handler:  handler,
		onError:  onError,
		onLogin:  onLogin,
		ready:    make(chan struct{}),
	}
}

func (s *wsSession) start() error {
	go func() {
		if err := s.connectLoop(); err != nil && !errors.Is(err, context.Canceled) {
			s.reportError(fmt.Errorf("ws session: %w", err))
		}
	}()

	select {
	case <-s.ready:
		return nil
	case <-time.After(wsLoginTimeout):
		return errors.New("timeout waiting for websocket login")
	case <-s.ctx.Done():
		return fmt.Errorf("websocket context done: %w", s.ctx.Err())
	}
}

func (s *wsSession) stop() {
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutdown")
		s.conn = nil
	}
	s.connMu.Unlock()
}

// subscribe registers channels and pushes the subscription to the venue.
// Channels survive reconnects; every new connection replays the full set.
func (s *wsSession) subscribe(channels []string) error {
	if len(channels) == 0 {
		return nil
	}
	s.subsMu.Lock()
	added := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if _, exists := s.channels[ch]; !exists {
			s.channels[ch] = struct{}{}
			added = append(added, ch)
		}
	}
	s.subsMu.Unlock()
	if len(added) == 0 {
		return nil
	}
	return s.sendBatched("subscribe", added)
}

func (s *wsSession) connectLoop() error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = wsMaxReconnectInterval

	for {
		select {
		case <-s.ctx.Done():
			return context.Canceled
		default:
		}

		conn, _, err := websocket.Dial(s.ctx, s.url, nil)
		if err != nil {
			s.reportError(fmt.Errorf("dial %s: %w", s.url, err))
			if !s.sleep(backoffCfg.NextBackOff()) {
				return context.Canceled
			}
			continue
		}
		conn.SetReadLimit(wsReadLimit)

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()

		s.loginMu.Lock()
		s.loggedIn = make(chan struct{})
		loggedIn := s.loggedIn
		s.loginMu.Unlock()

		s.controlMu.Lock()
		s.lastControlSend = time.Time{}
		s.controlMu.Unlock()

		connCtx, connCancel := context.WithCancel(s.ctx)
		errCh := make(chan error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			errCh <- s.readLoop(connCtx, conn)
		}()
		go func() {
			defer wg.Done()
			errCh <- s.pingLoop(connCtx, conn)
		}()

		if err := s.sendLogin(connCtx, conn); err != nil {
			s.reportError(err)
		} else {
			select {
			case <-loggedIn:
				backoffCfg.Reset()
				s.readyOnce.Do(func() { close(s.ready) })
				if err := s.subscribeAll(); err != nil {
					s.reportError(fmt.Errorf("resubscribe after reconnect: %w", err))
				}
				if s.onLogin != nil {
					s.onLogin()
				}
			case <-connCtx.Done():
			case <-time.After(wsLoginTimeout):
				s.reportError(errors.New("websocket login not acknowledged"))
			}
		}

		firstErr := <-errCh
		connCancel()

		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		wg.Wait()
		close(errCh)

		if firstErr != nil && !errors.Is(firstErr, context.Canceled) && !errors.Is(firstErr, context.DeadlineExceeded) {
			s.reportError(fmt.Errorf("websocket connection loop: %w", firstErr))
		}
		if !s.sleep(backoffCfg.NextBackOff()) {
			return context.Canceled
		}
	}
}

func (s *wsSession) sleep(d time.Duration) bool {
	if d == backoff.Stop {
		d = wsMaxReconnectInterval
	}
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *wsSession) sendLogin(ctx context.Context, conn *websocket.Conn) error {
	args := s.signer.WSLogin(time.Now().UTC())
	frame := wsRequest{Op: "login", Args: args[:]}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal login: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write login: %w", err)
	}
	return nil
}

func (s *wsSession) subscribeAll() error {
	s.subsMu.Lock()
	channels := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	s.subsMu.Unlock()
	return s.sendBatched("subscribe", channels)
}

func (s *wsSession) sendBatched(op string, channels []string) error {
	for start := 0; start < len(channels); start += wsMaxChannelsPerRequest {
		end := min(start+wsMaxChannelsPerRequest, len(channels))
		frame := wsRequest{Op: op, Args: channels[start:end]}
		data, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}

		s.controlMu.Lock()
		if err := s.waitForControlWindowLocked(s.ctx); err != nil {
			s.controlMu.Unlock()
			return err
		}
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if conn == nil {
			s.controlMu.Unlock()
			return nil
		}
		writeCtx, cancel := context.WithTimeout(s.ctx, wsWriteTimeout)
		err = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		s.controlMu.Unlock()
		if err != nil {
			return fmt.Errorf("write %s request: %w", op, err)
		}
	}
	return nil
}

func (s *wsSession) waitForControlWindowLocked(ctx context.Context) error {
	deadline := s.lastControlSend.Add(wsControlMessageInterval)
	if wait := time.Until(deadline); wait > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("control window wait canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	s.lastControlSend = time.Now()
	return nil
}

func (s *wsSession) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read websocket: %w", err)
		}
		if msgType == websocket.MessageBinary {
			data, err = inflateFrame(data)
			if err != nil {
				s.reportError(fmt.Errorf("inflate frame: %w", err))
				continue
			}
		}
		trimmed := strings.TrimSpace(string(data))
		if trimmed == "" || trimmed == "pong" {
			continue
		}
		var envelope wsEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			s.reportError(fmt.Errorf("decode websocket message: %w", err))
			continue
		}
		s.dispatch(envelope)
	}
}

func (s *wsSession) dispatch(envelope wsEnvelope) {
	switch {
	case envelope.Event == "login" && envelope.Success:
		s.loginMu.Lock()
		select {
		case <-s.loggedIn:
		default:
			close(s.loggedIn)
		}
		s.loginMu.Unlock()
	case envelope.Event == "error" || (envelope.ErrorCode.String() != "" && envelope.ErrorCode.String() != "0"):
		s.reportError(fmt.Errorf("websocket error %s: %s",
			envelope.ErrorCode.String(), strings.TrimSpace(envelope.Message)))
	case envelope.Event == "subscribe":
		observability.Log().Debug("ws channel subscribed",
			observability.F("channel", envelope.Channel))
	case envelope.Table != "" && len(envelope.Data) > 0:
		if s.handler != nil {
			s.handler(envelope.Table, envelope.Data)
		}
	}
}

// inflateFrame decompresses a raw-deflate compressed push frame.
func inflateFrame(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer func() {
		_ = r.Close()
	}()
	out, err := io.ReadAll(io.LimitReader(r, wsReadLimit))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *wsSession) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, []byte("ping"))
			cancel()
			if err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

func (s *wsSession) reportError(err error) {
	if err == nil || s.onError == nil {
		return
	}
	select {
	case <-s.ctx.Done():
	default:
		s.onError(err)
	}
}

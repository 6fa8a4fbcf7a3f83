package events

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"safetrade-chat/internal/domain"
)

const wsWriteWait = 10 * time.Second

// WebSocketFeed is a Feed backed by the realtime gateway. Each subscription
// holds its own connection.
type WebSocketFeed struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewWebSocketFeed(rawURL, token string, l *zap.Logger) *WebSocketFeed {
	if l == nil {
		l = zap.NewNop()
	}
	return &WebSocketFeed{
		url:    rawURL,
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: l.Named("ws_feed"),
	}
}

func (f *WebSocketFeed) Subscribe(ctx context.Context, filter Filter, onEvent Handler, onStatus StatusHandler) (Subscription, error) {
	if filter.Topic == "" {
		return nil, errors.New("subscribe: empty topic")
	}
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	if f.token != "" {
		q := u.Query()
		q.Set("token", f.token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := f.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	sub := &wsSubscription{
		conn:   conn,
		topic:  filter.Topic,
		logger: f.logger.With(zap.String("topic", filter.Topic)),
	}
	if err := sub.write(Frame{Type: FrameSubscribe, Topic: filter.Topic}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}
	go sub.readLoop(filter, onEvent, onStatus)
	return sub, nil
}

type wsSubscription struct {
	conn    *websocket.Conn
	topic   string
	logger  *zap.Logger
	writeMu sync.Mutex
	closed  atomic.Bool
	once    sync.Once
}

func (s *wsSubscription) write(fr Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(fr)
}

func (s *wsSubscription) readLoop(filter Filter, onEvent Handler, onStatus StatusHandler) {
	notify := func(status domain.ConnectionStatus, err error) {
		if onStatus != nil {
			onStatus(status, err)
		}
	}
	defer s.conn.Close()

	for {
		var fr Frame
		if err := s.conn.ReadJSON(&fr); err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				notify(domain.ConnectionDisconnected, nil)
			} else {
				s.logger.Warn("realtime connection lost", zap.Error(err))
				notify(domain.ConnectionDisconnected, err)
			}
			return
		}

		switch fr.Type {
		case FrameAck:
			if fr.Topic == s.topic {
				notify(domain.ConnectionConnected, nil)
			}
		case FrameEvent:
			if fr.Topic != s.topic || fr.Event == nil {
				continue
			}
			if filter.Matches(*fr.Event) && onEvent != nil {
				onEvent(*fr.Event)
			}
		case FrameError:
			s.closed.Store(true)
			notify(domain.ConnectionDisconnected, errors.New(fr.Error))
			return
		}
	}
}

func (s *wsSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		_ = s.write(Frame{Type: FrameUnsubscribe, Topic: s.topic})
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

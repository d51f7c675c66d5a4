package relayclient

import (
	"AssistantRelay/internal/service/relay"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClient держит одно websocket-соединение с реле. Реплики отправляются строго по очереди.
type WSClient struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *zap.SugaredLogger
}

// DialWS подключается к /api/ws. baseURL может быть http(s):// или ws(s)://.
func DialWS(ctx context.Context, baseURL string, logger *zap.SugaredLogger) (*WSClient, error) {
	u, err := wsURL(baseURL)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay websocket: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial relay websocket: %w", err)
	}
	logger.Infow("Подключено к реле по websocket", "url", u)
	return &WSClient{conn: conn, logger: logger}, nil
}

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	u.Path += "/api/ws"
	return u.String(), nil
}

// Send отправляет реплику и ждёт ответ. Дедлайн контекста переносится на соединение.
func (c *WSClient) Send(ctx context.Context, turn relay.Turn) (relay.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)

	// Отмена контекста прерывает ожидание ответа
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	start := time.Now()
	if err := c.conn.WriteJSON(turn); err != nil {
		return relay.Response{}, fmt.Errorf("send turn: %w", err)
	}
	var out reply
	if err := c.conn.ReadJSON(&out); err != nil {
		if ctx.Err() != nil {
			return relay.Response{}, context.Cause(ctx)
		}
		return relay.Response{}, fmt.Errorf("read reply: %w", err)
	}
	c.logger.Debugw("Ответ реле получен", "transport", "ws", "duration", time.Since(start).String())

	if out.Error != "" {
		return relay.Response{}, &Error{Status: out.Status, Message: out.Error}
	}
	return out.Response, nil
}

// Close закрывает соединение, предварительно попрощавшись.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/irfndi/celebrum-correlation/internal/utils"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 1 << 20
)

// Conn is one live feed connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	Ping() error
	Close() error
}

// Dialer opens feed connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials feed connections with gorilla/websocket.
type WebsocketDialer struct {
	dialer websocket.Dialer
}

// NewWebsocketDialer creates a dialer with a bounded handshake.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
}

// Dial opens a websocket connection to url.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, make(http.Header))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %v: %w", resp.StatusCode, err, utils.ErrTransient)
		}
		return nil, fmt.Errorf("websocket dial failed: %v: %w", err, utils.ErrTransient)
	}
	conn.SetReadLimit(defaultReadLimit)
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *websocketConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout))
}

// Close sends a normal closure frame before closing the socket.
func (c *websocketConn) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// WebSocketDialer connects to the backend's live-update endpoint. A
// "{symbol}" or "{pair}" placeholder in the URL template is replaced with the
// pair's base asset or the escaped pair; otherwise ?pair= is appended.
type WebSocketDialer struct {
	urlTemplate string
	dialer      *websocket.Dialer
	header      http.Header
}

func NewWebSocketDialer(urlTemplate string) *WebSocketDialer {
	return &WebSocketDialer{
		urlTemplate: strings.TrimSpace(urlTemplate),
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		header:      http.Header{},
	}
}

func (d *WebSocketDialer) URLFor(pair string) string {
	base, _, _ := strings.Cut(pair, "/")
	u := d.urlTemplate
	switch {
	case strings.Contains(u, "{symbol}"):
		return strings.ReplaceAll(u, "{symbol}", url.PathEscape(strings.ToLower(base)))
	case strings.Contains(u, "{pair}"):
		return strings.ReplaceAll(u, "{pair}", url.PathEscape(pair))
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "pair=" + url.QueryEscape(pair)
}

func (d *WebSocketDialer) Dial(ctx context.Context, pair string) (Conn, error) {
	target := d.URLFor(pair)
	conn, resp, err := d.dialer.DialContext(ctx, target, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", target, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return newPingedConn(conn), nil
}

// pingedConn keeps the read deadline alive with pings, the same heartbeat the
// relay hub uses on the server side.
type pingedConn struct {
	conn *websocket.Conn
	stop chan struct{}
}

func newPingedConn(conn *websocket.Conn) *pingedConn {
	pc := &pingedConn{conn: conn, stop: make(chan struct{})}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go pc.pingLoop()
	return pc
}

func (p *pingedConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (p *pingedConn) ReadMessage() (int, []byte, error) {
	mt, data, err := p.conn.ReadMessage()
	if err == nil {
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	return mt, data, err
}

func (p *pingedConn) Close() error {
	select {
	case <-p.stop:
		return nil
	default:
		close(p.stop)
	}
	return p.conn.Close()
}

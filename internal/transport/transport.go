// Package transport adapts a WebSocket duplex connection to the atomic
// send/receive-one-frame contract the session controller expects. One
// write mutex serializes all outgoing frames, and a single consumer owns
// the receive path.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Header names the duplex transport requires verbatim on connect.
const (
	HeaderResourceID = "X-Api-Resource-Id"
	HeaderAccessKey  = "X-Api-Access-Key"
	HeaderAppKey     = "X-Api-App-Key"
	HeaderAppID      = "X-Api-App-ID"
	HeaderConnectID  = "X-Api-Connect-Id"
)

// DialConfig carries the values the caller supplies for the WebSocket
// handshake request headers.
type DialConfig struct {
	URL        string
	ResourceID string
	AccessKey  string
	AppKey     string
	AppID      string
	ConnectID  string // freshly generated per connection by the caller
}

// Transport sends and receives whole binary frames over one WebSocket
// connection. Send is safe for concurrent callers; Receive has a single
// intended caller (the downstream pump).
type Transport struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// Dial opens the WebSocket connection with the required request headers.
func Dial(ctx context.Context, cfg DialConfig) (*Transport, error) {
	header := http.Header{}
	header.Set(HeaderResourceID, cfg.ResourceID)
	header.Set(HeaderAccessKey, cfg.AccessKey)
	header.Set(HeaderAppKey, cfg.AppKey)
	header.Set(HeaderAppID, cfg.AppID)
	header.Set(HeaderConnectID, cfg.ConnectID)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return &Transport{conn: conn}, nil
}

// Send writes one complete binary frame atomically. Concurrent callers are
// serialized by writeMu — the underlying connection does not permit
// interleaved writes for a single message.
func (t *Transport) Send(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Receive blocks until a full binary message is reassembled and returns its
// bytes. Returns a terminal error when the peer closes or sends a non-binary
// message (protocol error — this wire contract carries binary frames only).
func (t *Transport) Receive() ([]byte, error) {
	msgType, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("transport: receive: %w", err)
	}
	if msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("transport: receive: unexpected message type %d", msgType)
	}
	return data, nil
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

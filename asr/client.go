package asr

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"

	"windvox/config"
)

// Transport is the framed byte pipe a session streams over. Send and
// Recv carry whole protocol messages; implementations own the underlying
// connection lifetime.
type Transport interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	Close() error
}

// DialFunc opens a Transport for one session. requestID is propagated to
// the server so the session can be correlated in its logs.
type DialFunc func(ctx context.Context, requestID string) (Transport, error)

// Client dials the recognition endpoint over websocket with the
// credential headers the service expects.
type Client struct {
	endpoint config.Endpoint
}

func NewClient(endpoint config.Endpoint) *Client {
	return &Client{endpoint: endpoint}
}

func (c *Client) Dial(ctx context.Context, requestID string) (Transport, error) {
	header := http.Header{}
	header.Set("X-Api-Resource-Id", c.endpoint.ResourceID)
	header.Set("X-Api-Access-Key", c.endpoint.AccessKey)
	header.Set("X-Api-App-Key", c.endpoint.AppKey)
	header.Set("X-Api-Request-Id", requestID)

	conn, resp, err := websocket.Dial(ctx, c.endpoint.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &Error{Kind: KindAuth, SessionID: requestID,
				Err: fmt.Errorf("handshake rejected with HTTP %d", resp.StatusCode)}
		}
		return nil, &Error{Kind: KindConnection, SessionID: requestID,
			Err: fmt.Errorf("dial %s: %w", c.endpoint.URL, err)}
	}
	conn.SetReadLimit(1 << 20)

	wctx, cancel := context.WithCancel(context.Background())
	return &wsTransport{conn: conn, ctx: wctx, cancel: cancel}, nil
}

type wsTransport struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *wsTransport) Send(frame []byte) error {
	return t.conn.Write(t.ctx, websocket.MessageBinary, frame)
}

func (t *wsTransport) Recv() ([]byte, error) {
	_, data, err := t.conn.Read(t.ctx)
	return data, err
}

func (t *wsTransport) Close() error {
	t.cancel()
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

package btp

import (
	"context"

	"github.com/gorilla/websocket"
)

// DialWebSocket is the production Dialer, connecting over ws(s):// to a
// peer's BTP endpoint.
func DialWebSocket(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

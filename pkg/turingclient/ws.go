package turingclient

import (
	"context"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/rpcfast"
	"github.com/RyotaroOda/TuringChatD11-sub000/pkg/turingdto"
)

const (
	dialTimeout  = 10 * time.Second
	eventsBuffer = 16
)

func (c *Client) eventsURL(roomID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rooms/" + url.PathEscape(roomID) + "/events"
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.httpHeader(),
	})
	return conn, err
}

// Subscribe streams events of roomID. The first dial must succeed; after
// that a dropped connection is redialled with backoff up to the reconnect
// limit. The channel closes when ctx ends, the server ends the stream
// normally (room archived or removed), or reconnecting gives up.
func (c *Client) Subscribe(ctx context.Context, roomID string) (<-chan turingdto.RoomEvent, error) {
	wsURL, err := c.eventsURL(roomID)
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	out := make(chan turingdto.RoomEvent, eventsBuffer)
	go c.pump(ctx, wsURL, conn, out)
	return out, nil
}

func (c *Client) pump(ctx context.Context, wsURL string, conn *websocket.Conn, out chan<- turingdto.RoomEvent) {
	defer close(out)
	for {
		err := c.readAll(ctx, conn, out)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return
		}
		conn = c.reconnect(ctx, wsURL)
		if conn == nil {
			return
		}
	}
}

func (c *Client) readAll(ctx context.Context, conn *websocket.Conn, out chan<- turingdto.RoomEvent) error {
	for {
		var ev turingdto.RoomEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return err
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) reconnect(ctx context.Context, wsURL string) *websocket.Conn {
	for attempt := 1; attempt <= c.maxReconnects; attempt++ {
		if err := rpcfast.SleepWithContext(ctx, rpcfast.Backoff(attempt)); err != nil {
			return nil
		}
		if conn, err := c.dial(ctx, wsURL); err == nil {
			return conn
		}
	}
	return nil
}

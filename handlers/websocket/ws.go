package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"chat-relay/auth"
	"chat-relay/relay"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const (
	wsWriteTimeout    = 10 * time.Second
	maxDecodeErrors   = 8
	maxWSPayloadBytes = 1 << 20
)

// wsFrame is the envelope used on the plain WebSocket transport.
type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// NewWSHandler serves the plain WebSocket transport. Frames are JSON
// {"event","data"} envelopes; the credential may be passed as a bearer
// Authorization header or a token query parameter.
func NewWSHandler(hub *relay.Hub, allowedOrigins []string) http.Handler {
	server := websocket.Server{
		Handshake: func(_ *websocket.Config, r *http.Request) error {
			return checkOrigin(allowedOrigins, r.Header.Get("Origin"))
		},
		Handler: func(conn *websocket.Conn) {
			conn.MaxPayloadBytes = maxWSPayloadBytes
			t := newWSTransport(conn, requestToken(conn.Request()))
			go t.readPump()
			if err := hub.Serve(context.Background(), t); err != nil {
				logrus.WithFields(logrus.Fields{
					"conn_id": t.ID(),
					"error":   err,
				}).Debug("websocket connection ended")
			}
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		server.ServeHTTP(w, r)
	})
}

func checkOrigin(allowed []string, origin string) error {
	if origin == "" || len(allowed) == 0 || lo.Contains(allowed, "*") || lo.Contains(allowed, origin) {
		return nil
	}
	return fmt.Errorf("origin %q not allowed", origin)
}

func requestToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type wsTransport struct {
	id    string
	conn  *websocket.Conn
	token string

	in       chan relay.Inbound
	gone     chan struct{}
	goneOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, token string) *wsTransport {
	return &wsTransport{
		id:    uuid.NewString(),
		conn:  conn,
		token: token,
		in:    make(chan relay.Inbound, inboundBuffer),
		gone:  make(chan struct{}),
	}
}

// readPump decodes frames until the peer goes away. Malformed frames are
// forwarded with an empty event so the hub answers them with an error frame;
// too many in a row drop the connection.
func (t *wsTransport) readPump() {
	defer t.markGone()

	decodeErrors := 0
	for {
		var in relay.Inbound
		err := websocket.JSON.Receive(t.conn, &in)
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				if !errors.Is(err, io.EOF) {
					logrus.WithFields(logrus.Fields{
						"conn_id": t.id,
						"error":   err,
					}).Debug("websocket read failed")
				}
				return
			}
			decodeErrors++
			if decodeErrors >= maxDecodeErrors {
				logrus.WithField("conn_id", t.id).Warn("Too many malformed frames, dropping connection")
				return
			}
			in = relay.Inbound{}
		} else {
			decodeErrors = 0
		}

		select {
		case t.in <- in:
		case <-t.gone:
			return
		}
	}
}

func (t *wsTransport) markGone() {
	t.goneOnce.Do(func() { close(t.gone) })
}

func (t *wsTransport) ID() string { return t.id }

func (t *wsTransport) Handshake() string { return t.token }

func (t *wsTransport) Receive(ctx context.Context) (relay.Inbound, error) {
	return receiveInbound(ctx, t.in, t.gone)
}

// receiveInbound returns the next queued frame. Frames queued before the peer
// went away are still delivered; io.EOF comes only once the queue is empty.
func receiveInbound(ctx context.Context, in <-chan relay.Inbound, gone <-chan struct{}) (relay.Inbound, error) {
	select {
	case frame := <-in:
		return frame, nil
	case <-gone:
		select {
		case frame := <-in:
			return frame, nil
		default:
			return relay.Inbound{}, io.EOF
		}
	case <-ctx.Done():
		return relay.Inbound{}, ctx.Err()
	}
}

func (t *wsTransport) Send(event string, payload any) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return websocket.JSON.Send(t.conn, wsFrame{Event: event, Data: payload})
}

func (t *wsTransport) Close() error {
	t.markGone()
	return t.conn.Close()
}

package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"chat-relay/relay"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// inboundEvents are the client frames forwarded to the hub. socket.io only
// delivers events with a registered listener.
var inboundEvents = []string{
	relay.EventAuthenticate,
	relay.EventJoinRoom,
	relay.EventLeaveRoom,
	relay.EventSendMessage,
	relay.EventTyping,
	relay.EventMarkRead,
	relay.EventGetOnlineUsers,
}

const inboundBuffer = 32

type ackInvoker func(payload map[string]any)

// SetupSocketIO builds the socket.io server and hands every connection to hub.
func SetupSocketIO(hub *relay.Hub, allowedOrigins []string) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(1000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      corsOrigin(allowedOrigins),
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		t := newSocketTransport(socket)
		go func() {
			if err := hub.Serve(context.Background(), t); err != nil {
				logrus.WithFields(logrus.Fields{
					"conn_id": t.ID(),
					"error":   err,
				}).Debug("socket.io connection ended")
			}
		}()
	})

	return srv
}

func corsOrigin(allowed []string) any {
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		return "*"
	}
	origins := make([]any, 0, len(allowed))
	for _, o := range allowed {
		origins = append(origins, o)
	}
	return origins
}

// socketTransport adapts one socket.io socket to relay.Transport. Listeners
// are registered before the connection handler returns so no frame is lost
// while the hub starts up.
type socketTransport struct {
	socket *socketio.Socket
	token  string

	in       chan relay.Inbound
	gone     chan struct{}
	goneOnce sync.Once
}

func newSocketTransport(socket *socketio.Socket) *socketTransport {
	t := &socketTransport{
		socket: socket,
		token:  handshakeToken(socket.Handshake().Auth),
		in:     make(chan relay.Inbound, inboundBuffer),
		gone:   make(chan struct{}),
	}

	for _, event := range inboundEvents {
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(event, func(datas ...any) {
			t.push(event, datas)
		})
	}

	socket.On("disconnect", func(...any) {
		t.goneOnce.Do(func() { close(t.gone) })
		socket.RemoveAllListeners("")
	})

	return t
}

func (t *socketTransport) push(event string, datas []any) {
	ack, args := extractAck(datas)
	var raw json.RawMessage
	if len(args) > 0 && args[0] != nil {
		b, err := json.Marshal(args[0])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"conn_id": t.ID(),
				"event":   event,
				"error":   err,
			}).Warn("Dropping undecodable socket.io payload")
			return
		}
		raw = b
	}

	select {
	case t.in <- relay.Inbound{Event: event, Data: raw}:
		if ack != nil {
			ack(map[string]any{"status": "ok"})
		}
	case <-t.gone:
	}
}

func (t *socketTransport) ID() string { return string(t.socket.Id()) }

func (t *socketTransport) Handshake() string { return t.token }

func (t *socketTransport) Receive(ctx context.Context) (relay.Inbound, error) {
	return receiveInbound(ctx, t.in, t.gone)
}

// Send re-encodes payload into plain JSON values so the socket.io parser
// sees the same field names as every other transport.
func (t *socketTransport) Send(event string, payload any) error {
	arg, err := toJSONValue(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	select {
	case <-t.gone:
		return io.ErrClosedPipe
	default:
	}
	return t.socket.Emit(event, arg)
}

func (t *socketTransport) Close() error {
	t.socket.Disconnect(true)
	t.goneOnce.Do(func() { close(t.gone) })
	return nil
}

func toJSONValue(payload any) (any, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// handshakeToken reads auth.token from the socket.io handshake, accepting a
// "Bearer " prefix.
func handshakeToken(auth any) string {
	m, ok := auth.(map[string]any)
	if !ok {
		return ""
	}
	token, _ := m["token"].(string)
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// extractAck splits a trailing acknowledgement callback off the event args.
func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}
	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}
	typ := value.Type()
	return func(payload map[string]any) {
		args := make([]reflect.Value, typ.NumIn())
		for i := range args {
			in := typ.In(i)
			switch {
			case i == 0 && reflect.TypeOf(payload).AssignableTo(in):
				args[i] = reflect.ValueOf(payload)
			case i == 0 && len(args) == 1 && typ.IsVariadic() && in.Elem().Kind() == reflect.Interface:
				args[i] = reflect.ValueOf([]any{payload})
			default:
				args[i] = reflect.Zero(in)
			}
		}
		if typ.IsVariadic() {
			value.CallSlice(args)
			return
		}
		value.Call(args)
	}
}

package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/castmill/relay/pkg/com"
	"github.com/castmill/relay/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 512 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
	sendBuffer     = 64
)

type WS struct {
	id   com.Uid
	conn deadlinedConn
	send chan []byte
	log  *logger.Logger

	OnMessage MessageHandler

	once sync.Once
	done chan struct{}
}

type MessageHandler func(message []byte, err error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
}

// NewServer upgrades an HTTP request to a websocket connection.
// The returned socket is idle until Listen is called.
func NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	id := com.NewUid()
	return &WS{
		id:   id,
		conn: deadlinedConn{sock: conn, wt: writeWait},
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log.Extend(log.With().Str("ws", id.Short())),
	}, nil
}

func (ws *WS) Id() com.Uid { return ws.id }

// Done closes exactly once, when the connection dies for any reason.
func (ws *WS) Done() <-chan struct{} { return ws.done }

// Listen starts the reader and writer pumps.
func (ws *WS) Listen() {
	go ws.writer()
	go ws.reader()
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Serializes all websocket reads.
func (ws *WS) reader() {
	defer ws.shut()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongTime))
		conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(pongTime)); return nil })
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Debug().Err(err).Msg("read fail")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Serializes all websocket writes.
func (ws *WS) writer() {
	ticker := time.NewTicker(pingTime)
	defer func() {
		ticker.Stop()
		ws.shut()
	}()
	for {
		select {
		case message, ok := <-ws.send:
			if !ok {
				_ = ws.conn.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ws.done:
			return
		}
	}
}

// Write queues a message for sending, blocks when the buffer is full.
func (ws *WS) Write(data []byte) {
	select {
	case ws.send <- data:
	case <-ws.done:
	}
}

// TryWrite queues a message for sending unless the buffer is full,
// in which case the message is dropped and false is returned.
// Keeps slow consumers from stalling the caller.
func (ws *WS) TryWrite(data []byte) bool {
	select {
	case ws.send <- data:
		return true
	case <-ws.done:
		return false
	default:
		return false
	}
}

func (ws *WS) Close() { ws.shut() }

func (ws *WS) shut() {
	ws.once.Do(func() {
		close(ws.done)
		_ = ws.conn.close()
		ws.log.Debug().Msg("close")
	})
}

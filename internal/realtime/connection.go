package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// 送信バッファ。詰まった接続はここで切る。
	sendBufferSize = 128
)

var ErrConnClosed = errors.New("connection closed")

// Connection はwebsocket1本ぶんの状態。送信はバッファ付きチャネル経由で
// writeLoopに一本化する。同一ユーザーが複数接続（マルチタブ）を持つのは正常。
type Connection struct {
	ID     string
	UserID string

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

func NewConnection(userID string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// Start はwriteLoopを起動する。接続ごとに1回だけ呼ぶ。
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send はpayloadを送信キューに積む。バッファが満杯なら接続ごと切る
// （遅いクライアントを待たない。正しさは再接続後のresyncで回復する）。
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrConnClosed
	}
}

// Close は接続を終了してwriteLoopを止める。何度呼んでも安全。
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		if c.ws != nil {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = c.ws.Close()
		}
	})
}

// Closed は切断済みかどうかの通知チャネルを返す。
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// SetReadLimit は受信フレームの上限サイズを設定する。
func (c *Connection) SetReadLimit(n int64) {
	c.ws.SetReadLimit(n)
}

// ReadMessage は次のフレームを読む。切断でエラーを返す。
func (c *Connection) ReadMessage() ([]byte, error) {
	_, payload, err := c.ws.ReadMessage()
	return payload, err
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

const (
	writeWait = 10 * time.Second
	closeWait = 250 * time.Millisecond
)

// wsTransport adapts a gorilla connection to session.Transport. Gorilla
// allows one concurrent writer, so writes are serialized.
type wsTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(t.conn.WriteMessage(websocket.TextMessage, data))
}

// Close tells the peer we are closing and drops the connection. Gorilla
// lets WriteControl and Close run alongside a writer, so neither waits on
// writeMu. A write stuck on a peer that stopped reading fails once the
// connection is closed.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		err = t.conn.Close()
	})
	return err
}

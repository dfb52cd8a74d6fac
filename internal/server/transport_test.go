package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acceptOne serves a websocket endpoint and hands each upgraded connection
// back as a transport.
func acceptOne(t *testing.T) (string, <-chan *wsTransport) {
	t.Helper()
	accepted := make(chan *wsTransport, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- newTransport(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), accepted
}

func TestCloseDoesNotWaitForBlockedWrite(t *testing.T) {
	url, accepted := acceptOne(t)
	// the client never reads, so a large write fills the socket buffers and blocks
	dial(t, url)

	var transport *wsTransport
	select {
	case transport = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("connection not accepted")
	}

	writeDone := make(chan error, 1)
	go func() {
		writeDone <- transport.WriteMessage(make([]byte, 64<<20))
	}()

	// let the writer take writeMu and stall on the socket
	time.Sleep(200 * time.Millisecond)
	select {
	case err := <-writeDone:
		t.Fatalf("write finished early: %v", err)
	default:
	}

	start := time.Now()
	require.NoError(t, transport.Close())
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-writeDone:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked write not released by Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	url, accepted := acceptOne(t)
	conn := dial(t, url)
	transport := <-accepted

	require.NoError(t, transport.Close())
	assert.NoError(t, transport.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

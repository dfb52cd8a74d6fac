package session

// Transport is a bidirectional text-frame stream for one charge point.
//
// ReadMessage blocks until the next frame; it returns an error once the
// connection is closed from either side. WriteMessage may be called from
// several goroutines. Close is idempotent and unblocks ReadMessage.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

package connection

// Transport is the subset of *gorilla/websocket.Conn this package needs.
// Tests supply an in-memory double; production code passes a real
// websocket connection (see internal/transport).
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// binaryMessage mirrors gorilla/websocket.BinaryMessage without importing
// the package here, so this file has no transport-library dependency.
const binaryMessage = 2

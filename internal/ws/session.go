package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"securechat/internal/protocol"
)

// session is one upgraded connection. It implements presence.Sink so
// the registry and router can push to it. Writes are serialized by the
// mutex; gorilla connections do not allow concurrent writers.
type session struct {
	id       string
	username string

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *session) ConnID() string   { return s.id }
func (s *session) Username() string { return s.username }

func (s *session) Send(e protocol.Event) error {
	raw, err := protocol.Encode(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

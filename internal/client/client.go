package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"securechat/internal/protocol"
)

// Client is the websocket transport around an Engine. It owns the
// connection, feeds every inbound frame through the engine, and
// publishes the resulting notifications.
type Client struct {
	engine *Engine
	conn   *websocket.Conn
	log    *zap.Logger

	writeMu sync.Mutex
	notes   chan Notification
	done    chan struct{}
}

// Dial connects to the server's /ws endpoint, announces the engine's
// identity, and starts the read loop.
func Dial(ctx context.Context, serverURL, token string, engine *Engine, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Origin", serverURL)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.String(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	c := &Client{
		engine: engine,
		conn:   conn,
		log:    log,
		notes:  make(chan Notification, 64),
		done:   make(chan struct{}),
	}

	if err := c.write(&protocol.Announce{Username: engine.Username()}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("announce: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Notifications is the engine's observable event stream. The channel
// closes when the connection goes away.
func (c *Client) Notifications() <-chan Notification {
	return c.notes
}

func (c *Client) readLoop() {
	defer close(c.notes)
	defer close(c.done)

	ctx := context.Background()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := protocol.Decode(raw)
		if err != nil {
			c.log.Warn("undecodable frame", zap.Error(err))
			continue
		}
		note, err := c.engine.Apply(ctx, ev)
		if err != nil {
			c.log.Warn("apply event", zap.String("kind", string(ev.Kind())), zap.Error(err))
			continue
		}
		if note != nil {
			// Drop rather than block if the consumer is not keeping up;
			// cache state is already durable, only the signal is lost.
			select {
			case c.notes <- *note:
			default:
				c.log.Debug("notification dropped", zap.String("kind", string(note.Kind)))
			}
		}
	}
}

func (c *Client) write(e protocol.Event) error {
	raw, err := protocol.Encode(e)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// SendGroupMessage performs the optimistic insert and transmits.
func (c *Client) SendGroupMessage(ctx context.Context, groupID, content string) error {
	ev, err := c.engine.PrepareGroupMessage(ctx, groupID, content)
	if err != nil {
		return err
	}
	return c.write(ev)
}

func (c *Client) SendDirectMessage(ctx context.Context, receiver, content string) error {
	ev, err := c.engine.PrepareDirectMessage(ctx, receiver, content)
	if err != nil {
		return err
	}
	return c.write(ev)
}

func (c *Client) RequestGroupHistory(groupID string) error {
	return c.write(&protocol.RequestGroupHistory{GroupID: groupID})
}

func (c *Client) RequestDMHistory(withUser string) error {
	return c.write(&protocol.RequestDMHistory{TargetUser: withUser})
}

func (c *Client) CreateGroup(name, description string, members []string) error {
	return c.write(&protocol.CreateGroup{Name: name, Description: description, Members: members})
}

func (c *Client) DeleteGroup(groupID string) error {
	return c.write(&protocol.DeleteGroup{GroupID: groupID})
}

func (c *Client) DeleteDMConversation(withUser string) error {
	return c.write(&protocol.DeleteDMConversation{TargetUser: withUser})
}

func (c *Client) MarkGroupRead(groupID string) error {
	return c.write(&protocol.MarkGroupRead{GroupID: groupID})
}

// Logout wipes the local cache, tears down server-side presence, and
// closes the connection.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.engine.Reset(ctx); err != nil {
		return err
	}
	if err := c.write(&protocol.Logout{}); err != nil {
		return err
	}
	return c.Close()
}

func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

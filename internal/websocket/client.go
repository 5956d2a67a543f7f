package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/wellio/pushagent/internal/models"
)

var (
	ErrClientGone      = errors.New("window client is gone")
	ErrOpenUnsupported = errors.New("opening windows is not supported")
)

// Client is one connected page.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	seq       uint64
	closeOnce sync.Once
	gone      atomic.Bool

	mu         sync.Mutex
	url        string
	controlled bool
}

func (c *Client) ID() string { return c.id }

func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

func (c *Client) Controlled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controlled
}

func (c *Client) setURL(u string) {
	c.mu.Lock()
	c.url = u
	c.mu.Unlock()
}

func (c *Client) setControlled() {
	c.mu.Lock()
	c.controlled = true
	c.mu.Unlock()
}

// Focus asks the page to bring its window to the front.
func (c *Client) Focus(ctx context.Context) error {
	return c.PostMessage(ctx, models.PageMessage{Type: models.MessageTypeFocus})
}

func (c *Client) PostMessage(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.gone.Load() {
		return ErrClientGone
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if !c.trySend(payload) {
		c.closeConn()
		return ErrClientGone
	}
	return nil
}

func (c *Client) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.gone.Store(true)
		close(c.send)
	})
}

func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

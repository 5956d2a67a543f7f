// Package websocket keeps the pages connected to the agent and exposes them
// to the worker as window clients.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wellio/pushagent/internal/models"
	"github.com/wellio/pushagent/internal/router"
)

// Opener opens a new browser window on an absolute URL.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// CommandOpener runs a local command with the URL appended, e.g. "xdg-open".
type CommandOpener struct {
	Command string
}

func (o CommandOpener) Open(ctx context.Context, url string) error {
	fields := strings.Fields(o.Command)
	if len(fields) == 0 {
		return ErrOpenUnsupported
	}
	args := append(fields[1:], url)
	out, err := exec.CommandContext(ctx, fields[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", fields[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// MessageHandler receives page to worker messages.
type MessageHandler func(ctx context.Context, clientID string, msg models.PageMessage)

type Hub struct {
	mu        sync.Mutex
	clients   map[string]*Client
	seq       uint64
	opener    Opener
	onMessage MessageHandler
	logger    *slog.Logger
}

func NewHub(opener Opener, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		opener:  opener,
		logger:  logger,
	}
}

// OnMessage sets the handler for page messages. Call before serving.
func (h *Hub) OnMessage(fn MessageHandler) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	client.seq = h.seq
	h.clients[client.id] = client
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[id]; ok {
		client.closeSend()
	}
	delete(h.clients, id)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*Client {
	h.mu.Lock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// MatchAll lists connected windows in connection order.
func (h *Hub) MatchAll(_ context.Context, includeUncontrolled bool) ([]router.WindowClient, error) {
	var out []router.WindowClient
	for _, c := range h.snapshot() {
		if !includeUncontrolled && !c.Controlled() {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (h *Hub) OpenWindow(ctx context.Context, url string) error {
	if h.opener == nil {
		return ErrOpenUnsupported
	}
	return h.opener.Open(ctx, url)
}

// Claim makes the active worker control every connected page.
func (h *Hub) Claim(context.Context) error {
	for _, c := range h.snapshot() {
		c.setControlled()
	}
	return nil
}

func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeConn()
		c.closeSend()
	}
}

func (h *Hub) newClient(pageURL string, controlled bool) *Client {
	return &Client{
		id:         uuid.New().String(),
		send:       make(chan []byte, 32),
		url:        pageURL,
		controlled: controlled,
	}
}

func (h *Hub) dispatch(ctx context.Context, client *Client, msg models.PageMessage) {
	switch msg.Type {
	case models.MessageTypePing:
		return
	case models.MessageTypeNavigated:
		if msg.URL != "" {
			client.setURL(msg.URL)
		}
	}

	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()
	if fn != nil {
		fn(ctx, client.id, msg)
	}
}

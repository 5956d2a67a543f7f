package useragent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wellio/pushagent/internal/models"
)

// Capabilities lists the platform features present on this device.
type Capabilities struct {
	ServiceWorker bool `json:"serviceWorker"`
	PushManager   bool `json:"pushManager"`
	Notifications bool `json:"notifications"`
}

// Supported reports whether push notifications can work at all.
func (c Capabilities) Supported() bool {
	return c.ServiceWorker && c.PushManager && c.Notifications
}

// TrayEntry is a notification currently shown to the user.
type TrayEntry struct {
	ID      string                     `json:"id"`
	Title   string                     `json:"title"`
	Options models.NotificationOptions `json:"options"`
	ShownAt time.Time                  `json:"shown_at"`

	seq uint64
}

// Tray is the in-memory notification area. Showing a notification with a tag
// already on display replaces that entry.
type Tray struct {
	mu      sync.Mutex
	entries map[string]*TrayEntry
	seq     uint64
	nowFn   func() time.Time
}

func NewTray() *Tray {
	return &Tray{entries: make(map[string]*TrayEntry), nowFn: time.Now}
}

func (t *Tray) WithClock(nowFn func() time.Time) *Tray {
	t.nowFn = nowFn
	return t
}

func (t *Tray) Show(title string, opts models.NotificationOptions) TrayEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if opts.Tag != "" {
		for id, e := range t.entries {
			if e.Options.Tag == opts.Tag {
				delete(t.entries, id)
			}
		}
	}
	t.seq++
	e := &TrayEntry{
		ID:      uuid.New().String(),
		Title:   title,
		Options: opts,
		ShownAt: t.nowFn(),
		seq:     t.seq,
	}
	t.entries[e.ID] = e
	return *e
}

// ShowNotification puts the notification in the tray.
func (t *Tray) ShowNotification(_ context.Context, title string, opts models.NotificationOptions) error {
	t.Show(title, opts)
	return nil
}

// List returns entries oldest first.
func (t *Tray) List() []TrayEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TrayEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (t *Tray) Get(id string) (TrayEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return TrayEntry{}, ErrNotificationNotFound
	}
	return *e, nil
}

// Close removes the entry and reports whether it was still shown.
func (t *Tray) Close(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// Handle returns a closer bound to one entry.
func (t *Tray) Handle(id string) *TrayHandle {
	return &TrayHandle{tray: t, id: id}
}

type TrayHandle struct {
	tray *Tray
	id   string
}

func (h *TrayHandle) Close(context.Context) error {
	h.tray.Close(h.id)
	return nil
}

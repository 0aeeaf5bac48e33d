package chatclient

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

const (
	ReceiptSeen = "Seen"
	ReceiptSent = "Sent"

	AdminTypingLabel = "Admin is typing…"
)

// WidgetConfig wires an end-user widget.
type WidgetConfig struct {
	Viewer        Viewer
	API           API
	Transport     Transport
	TypingTimeout time.Duration
	OnChange      func(Snapshot)
}

// Widget is the end-user panel over the user's single conversation with the
// admin party. Opening the panel opens the store; closing it closes the store.
type Widget struct {
	store *Store

	mu   sync.Mutex
	open bool
}

func NewWidget(cfg WidgetConfig) (*Widget, error) {
	if cfg.Viewer.Role != chat.RolePetOwner {
		return nil, errors.Errorf("widget viewer must be %q, got %q", chat.RolePetOwner, cfg.Viewer.Role)
	}
	store, err := NewStore(StoreConfig{
		Viewer:        cfg.Viewer,
		API:           cfg.API,
		Transport:     cfg.Transport,
		TypingTimeout: cfg.TypingTimeout,
		OnChange:      cfg.OnChange,
	})
	if err != nil {
		return nil, err
	}
	return &Widget{store: store}, nil
}

func (w *Widget) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// SetOpen expands or collapses the panel.
func (w *Widget) SetOpen(ctx context.Context, open bool) error {
	w.mu.Lock()
	w.open = open
	w.mu.Unlock()
	if !open {
		w.store.Close()
		return nil
	}
	return w.store.Open(ctx)
}

func (w *Widget) Toggle(ctx context.Context) error {
	return w.SetOpen(ctx, !w.IsOpen())
}

// Input reports a keystroke in the message box.
func (w *Widget) Input(text string) {
	w.store.SetTyping(text != "")
}

func (w *Widget) Send(ctx context.Context, text string) error {
	w.store.SetTyping(false)
	return w.store.Send(ctx, text)
}

// Receipt is the read receipt of the viewer's most recent message: "Seen",
// "Sent", or empty when the viewer has not written anything.
func (w *Widget) Receipt() string {
	m, ok := w.store.LastOwnMessage()
	switch {
	case !ok:
		return ""
	case m.IsRead:
		return ReceiptSeen
	default:
		return ReceiptSent
	}
}

func (w *Widget) AdminTyping() bool {
	return w.store.Snapshot().PeerTyping
}

// TypingLabel is the indicator text, empty when the admin is not typing.
func (w *Widget) TypingLabel() string {
	if w.AdminTyping() {
		return AdminTypingLabel
	}
	return ""
}

func (w *Widget) Snapshot() Snapshot { return w.store.Snapshot() }

func (w *Widget) Store() *Store { return w.store }

// Close collapses the panel and releases the store.
func (w *Widget) Close() {
	w.mu.Lock()
	w.open = false
	w.mu.Unlock()
	w.store.Close()
}

package sync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DisplayStatus is the user-facing connection state, derived from the
// presence monitor, the manager's status machine, and the dirty flag.
type DisplayStatus string

const (
	DisplayOnlineSynced  DisplayStatus = "online-synced"
	DisplayOnlineSyncing DisplayStatus = "online-syncing"
	DisplayOnlineDirty   DisplayStatus = "online-dirty"
	DisplayOffline       DisplayStatus = "offline"
	DisplayError         DisplayStatus = "error"
)

// DeriveStatus computes the display state. An open conflict shows as
// online-dirty (local edits exist that the server has not accepted and
// pushes are blocked) with the conflict itself surfaced separately
// through the open-conflict accessor.
func DeriveStatus(online bool, status Status, dirty bool) DisplayStatus {
	switch status {
	case StatusError:
		return DisplayError
	case StatusOffline:
		return DisplayOffline
	case StatusConflict:
		return DisplayOnlineDirty
	case StatusSyncing:
		return DisplayOnlineSyncing
	}

	if !online {
		return DisplayOffline
	}

	if dirty {
		return DisplayOnlineDirty
	}

	return DisplayOnlineSynced
}

// Projector tracks the inputs to DeriveStatus and notifies listeners
// when the derived state changes. Attach wires it to a manager and its
// presence source; after that it updates itself.
type Projector struct {
	mu      sync.Mutex
	online  bool
	status  Status
	dirty   bool
	current DisplayStatus
	subs    []func(DisplayStatus)
}

// NewProjector starts offline-idle until the first observation arrives.
func NewProjector() *Projector {
	return &Projector{
		status:  StatusIdle,
		current: DisplayOffline,
	}
}

// Attach subscribes the projector to a manager and presence source and
// seeds it with their current state.
func (p *Projector) Attach(m *Manager, presence PresenceSource) {
	if presence != nil {
		p.SetOnline(presence.Online())
		presence.Subscribe(p.SetOnline)
	}

	p.SetStatus(m.Status(), m.Dirty())

	m.Subscribe(func(s Status) {
		p.SetStatus(s, m.Dirty())
	})
}

// SetOnline records a connectivity observation.
func (p *Projector) SetOnline(online bool) {
	p.mu.Lock()
	p.online = online
	p.mu.Unlock()

	p.recompute()
}

// SetStatus records a manager state observation.
func (p *Projector) SetStatus(status Status, dirty bool) {
	p.mu.Lock()
	p.status = status
	p.dirty = dirty
	p.mu.Unlock()

	p.recompute()
}

// Current returns the latest derived display state.
func (p *Projector) Current() DisplayStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.current
}

// Subscribe registers a listener for display-state transitions.
func (p *Projector) Subscribe(fn func(DisplayStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subs = append(p.subs, fn)
}

// recompute derives the display state and notifies listeners when it
// actually changed.
func (p *Projector) recompute() {
	p.mu.Lock()

	next := DeriveStatus(p.online, p.status, p.dirty)
	if next == p.current {
		p.mu.Unlock()

		return
	}

	p.current = next
	subs := append([]func(DisplayStatus){}, p.subs...)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

// ToastLevel classifies a toast.
type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastSuccess ToastLevel = "success"
	ToastWarning ToastLevel = "warning"
	ToastError   ToastLevel = "error"
)

// Toast is one transient notification. Non-persistent toasts expire
// after the toaster's TTL; persistent ones stay until dismissed.
type Toast struct {
	ID         string
	Level      ToastLevel
	Message    string
	Persistent bool
	PostedAt   time.Time
}

// defaultToastTTL is how long a non-persistent toast stays visible.
const defaultToastTTL = 5 * time.Second

// Toaster queues transient notifications for whatever surface renders
// them (the CLI prints them; a frontend would pop them). Expiry is
// evaluated lazily against an injectable clock.
type Toaster struct {
	mu     sync.Mutex
	toasts []Toast
	ttl    time.Duration
	now    func() time.Time
	subs   []func(Toast)
}

// NewToaster creates a toaster with the default 5s auto-dismiss.
func NewToaster() *Toaster {
	return &Toaster{
		ttl: defaultToastTTL,
		now: time.Now,
	}
}

// Post queues a toast that auto-dismisses after the TTL.
func (t *Toaster) Post(level ToastLevel, message string) Toast {
	return t.post(level, message, false)
}

// PostPersistent queues a toast that stays until dismissed.
func (t *Toaster) PostPersistent(level ToastLevel, message string) Toast {
	return t.post(level, message, true)
}

func (t *Toaster) post(level ToastLevel, message string, persistent bool) Toast {
	toast := Toast{
		ID:         uuid.NewString(),
		Level:      level,
		Message:    message,
		Persistent: persistent,
		PostedAt:   t.now(),
	}

	t.mu.Lock()
	t.pruneLocked()
	t.toasts = append(t.toasts, toast)
	subs := append([]func(Toast){}, t.subs...)
	t.mu.Unlock()

	for _, fn := range subs {
		fn(toast)
	}

	return toast
}

// Active returns the toasts still visible: persistent ones plus those
// whose TTL has not elapsed, oldest first.
func (t *Toaster) Active() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked()

	return append([]Toast(nil), t.toasts...)
}

// Dismiss removes a toast by id. Unknown ids are ignored.
func (t *Toaster) Dismiss(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, toast := range t.toasts {
		if toast.ID == id {
			t.toasts = append(t.toasts[:i], t.toasts[i+1:]...)

			return
		}
	}
}

// Subscribe registers a listener for newly posted toasts.
func (t *Toaster) Subscribe(fn func(Toast)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.subs = append(t.subs, fn)
}

// pruneLocked drops expired non-persistent toasts. Caller holds the lock.
func (t *Toaster) pruneLocked() {
	cutoff := t.now().Add(-t.ttl)

	kept := t.toasts[:0]

	for _, toast := range t.toasts {
		if toast.Persistent || toast.PostedAt.After(cutoff) {
			kept = append(kept, toast)
		}
	}

	t.toasts = kept
}

package notifications

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
)

// FeedChangeKind names what happened in a space's message collection.
type FeedChangeKind string

const (
	ChangeCreated      FeedChangeKind = "created"
	ChangeFlagged      FeedChangeKind = "flagged"
	ChangeDeleted      FeedChangeKind = "deleted"
	ChangeLiked        FeedChangeKind = "liked"
	ChangeSpaceDeleted FeedChangeKind = "space_deleted"
)

// FeedChange is the notification published after a committed write to a space feed.
type FeedChange struct {
	SpaceID   string         `json:"space_id"`
	Kind      FeedChangeKind `json:"kind"`
	MessageID string         `json:"message_id,omitempty"`
	Seq       int64          `json:"seq,omitempty"`
}

// FeedListener receives change signals for one space. Signals coalesce: a
// listener that has not drained C sees one pending signal, never a backlog.
type FeedListener struct {
	C <-chan struct{}

	hub     *FeedHub
	spaceID string
	signal  chan struct{}

	mu      sync.Mutex
	removed bool
	closed  bool
}

// SpaceDeleted reports whether the space went away while listening.
func (l *FeedListener) SpaceDeleted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removed
}

// Closed reports whether the listener was closed or its hub shut down.
func (l *FeedListener) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close detaches the listener from its hub. It is safe to call more than once.
func (l *FeedListener) Close() {
	l.hub.remove(l)
}

func (l *FeedListener) notify(change FeedChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if change.Kind == ChangeSpaceDeleted {
		l.removed = true
	}
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// FeedHub fans feed changes out to the listeners of each space. With a
// Redis-backed Notifier changes travel through Redis so every process sees
// them; without one they are dispatched in-process.
type FeedHub struct {
	mu        sync.RWMutex
	listeners map[string]map[*FeedListener]struct{}
	notifier  *Notifier
	wired     bool
}

// NewFeedHub creates a hub. n may be nil.
func NewFeedHub(n *Notifier) *FeedHub {
	return &FeedHub{
		listeners: make(map[string]map[*FeedListener]struct{}),
		notifier:  n,
	}
}

// Listen registers a listener for spaceID.
func (h *FeedHub) Listen(spaceID string) *FeedListener {
	signal := make(chan struct{}, 1)
	l := &FeedListener{C: signal, hub: h, spaceID: spaceID, signal: signal}

	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.listeners[spaceID]
	if !ok {
		m = make(map[*FeedListener]struct{})
		h.listeners[spaceID] = m
	}
	m[l] = struct{}{}
	return l
}

// ListenerCount returns the number of listeners on spaceID.
func (h *FeedHub) ListenerCount(spaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[spaceID])
}

func (h *FeedHub) remove(l *FeedListener) {
	h.mu.Lock()
	if m, ok := h.listeners[l.spaceID]; ok {
		delete(m, l)
		if len(m) == 0 {
			delete(h.listeners, l.spaceID)
		}
	}
	h.mu.Unlock()

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// Publish announces change to every listener of its space.
func (h *FeedHub) Publish(ctx context.Context, change FeedChange) {
	h.mu.RLock()
	wired := h.wired
	h.mu.RUnlock()

	if wired {
		err := h.notifier.PublishFeedChange(ctx, change)
		if err == nil {
			return
		}
		log.Printf("feed change publish failed for space %s, dispatching locally: %v", change.SpaceID, err)
	}
	h.Dispatch(change)
}

// Dispatch delivers change to local listeners without blocking.
func (h *FeedHub) Dispatch(change FeedChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.listeners[change.SpaceID] {
		l.notify(change)
	}
}

// StartWiring subscribes to feed channels in Redis and dispatches what arrives.
// Until it succeeds, Publish dispatches in-process only.
func (h *FeedHub) StartWiring(ctx context.Context) error {
	if !h.notifier.Enabled() {
		return nil
	}
	err := h.notifier.StartFeedSubscriber(ctx, func(channel, payload string) {
		if !strings.HasPrefix(channel, feedChannelPrefix) {
			log.Printf("invalid feed channel: %s", channel)
			return
		}
		var change FeedChange
		if err := json.Unmarshal([]byte(payload), &change); err != nil {
			log.Printf("invalid feed change on %s: %v", channel, err)
			return
		}
		h.Dispatch(change)
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.wired = true
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		h.wired = false
		h.mu.Unlock()
	}()
	return nil
}

// Shutdown wakes and detaches every listener.
func (h *FeedHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	all := h.listeners
	h.listeners = make(map[string]map[*FeedListener]struct{})
	h.mu.Unlock()

	for _, m := range all {
		for l := range m {
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			select {
			case l.signal <- struct{}{}:
			default:
			}
		}
	}
	return nil
}

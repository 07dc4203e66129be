package service

import (
	"context"
	"errors"
	"sync"

	"spacechat/internal/models"
	"spacechat/internal/notifications"
	"spacechat/internal/observability"
)

// ErrSubscriptionClosed is returned by Next after Cancel or hub shutdown.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription is a live view of a space's latest window. Each page from Next
// replaces the previous one in full.
type Subscription struct {
	feed     *FeedService
	listener *notifications.FeedListener
	spaceID  string
	pageSize int

	mu   sync.Mutex
	last *Page

	cancelOnce sync.Once
	done       chan struct{}
}

func newSubscription(feed *FeedService, listener *notifications.FeedListener, spaceID string, pageSize int, initial *Page) *Subscription {
	observability.FeedSubscriptions.Inc()
	return &Subscription{
		feed:     feed,
		listener: listener,
		spaceID:  spaceID,
		pageSize: pageSize,
		last:     initial,
		done:     make(chan struct{}),
	}
}

// Next blocks until the window changes and returns the new window. A deleted
// space ends the subscription with NotFound.
func (s *Subscription) Next(ctx context.Context) (*Page, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrSubscriptionClosed
		case <-s.listener.C:
		}

		if s.listener.SpaceDeleted() {
			s.Cancel()
			return nil, models.NewNotFoundError("Space", s.spaceID)
		}
		if s.listener.Closed() {
			s.Cancel()
			return nil, ErrSubscriptionClosed
		}

		page, err := s.feed.latest(ctx, s.spaceID, s.pageSize)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		unchanged := sameWindow(s.last, page)
		if !unchanged {
			s.last = page
		}
		s.mu.Unlock()
		if !unchanged {
			return page, nil
		}
	}
}

// Cancel stops delivery and releases the listener. It is idempotent.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.done)
		s.listener.Close()
		observability.FeedSubscriptions.Dec()
	})
}

// sameWindow reports whether two windows would render identically.
func sameWindow(a, b *Page) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.HasMore != b.HasMore || len(a.Messages) != len(b.Messages) {
		return false
	}
	for i := range a.Messages {
		x, y := a.Messages[i], b.Messages[i]
		if x.ID != y.ID || x.Flagged != y.Flagged || x.LikeCount != y.LikeCount {
			return false
		}
	}
	return true
}

package store

import (
	"sync"
	"sync/atomic"
)

// Snapshot is the full state of a watched document or query result at some
// point in the store's change feed.
type Snapshot struct {
	Docs []Document
}

// Subscription is a handle on a change feed. Snapshots arrive on Events in
// delivery order; at most one is buffered, and an undelivered snapshot is
// superseded by a newer one. Errors arrive on Err. After Unsubscribe no
// further snapshots are delivered, including ones already in flight.
type Subscription struct {
	events chan Snapshot
	errs   chan error
	done   chan struct{}
	gen    atomic.Uint64
	once   sync.Once
	stop   func()
}

func newSubscription(stop func()) *Subscription {
	return &Subscription{
		events: make(chan Snapshot, 1),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		stop:   stop,
	}
}

// Events returns the snapshot channel.
func (s *Subscription) Events() <-chan Snapshot {
	return s.events
}

// Err returns the error channel. A delivered error does not close Events;
// callers decide whether to Unsubscribe.
func (s *Subscription) Err() <-chan error {
	return s.errs
}

// Done is closed once the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe stops delivery. Work already in flight at the store is not
// cancelled; its results are discarded via the generation check.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.gen.Add(1)
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
}

// generation is captured by producers before computing a snapshot; publishAt
// drops the result if the subscription moved on in the meantime.
func (s *Subscription) generation() uint64 {
	return s.gen.Load()
}

// publishAt delivers snap unless the subscription was cancelled at or after
// gen was captured. Latest-wins: an unread buffered snapshot is replaced.
func (s *Subscription) publishAt(gen uint64, snap Snapshot) bool {
	for {
		if s.gen.Load() != gen {
			return false
		}
		select {
		case <-s.done:
			return false
		case s.events <- snap:
			return true
		default:
		}
		// Buffer full: drop the superseded snapshot and retry.
		select {
		case <-s.events:
		default:
		}
	}
}

// fail delivers err without blocking; older undelivered errors are replaced.
func (s *Subscription) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.errs <- err:
	default:
		select {
		case <-s.errs:
		default:
		}
		select {
		case s.errs <- err:
		default:
		}
	}
}

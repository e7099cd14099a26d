// Package presence owns the per-user session counters that decide when a user
// is considered online. Transitions are atomic per user: of N concurrent
// connects only the first reports became-online, and of N concurrent
// disconnects only the last reports went-offline.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mirror reflects online/offline transitions into an external store so
// sibling services can read presence without holding a socket.
type Mirror interface {
	Online(ctx context.Context, userID int64) error
	Offline(ctx context.Context, userID int64) error
}

// Registry tracks how many open sessions each user currently holds.
type Registry struct {
	mu     sync.Mutex
	counts map[int64]int

	mirror Mirror
	log    *zap.Logger
}

// Option configures optional Registry behaviour at construction time.
type Option func(*Registry)

// WithMirror attaches an external presence mirror. Mirror failures are logged
// and swallowed; they never affect the in-memory transition.
func WithMirror(mirror Mirror) Option {
	return func(r *Registry) {
		if mirror != nil {
			r.mirror = mirror
		}
	}
}

// NewRegistry constructs an empty presence registry.
func NewRegistry(log *zap.Logger, opts ...Option) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	registry := &Registry{
		counts: make(map[int64]int),
		log:    log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry
}

// Connect records one more open session for the user and reports whether the
// user just transitioned from offline to online.
func (r *Registry) Connect(userID int64) (becameOnline bool) {
	r.mu.Lock()
	r.counts[userID]++
	becameOnline = r.counts[userID] == 1
	r.mu.Unlock()

	if becameOnline {
		r.reflect(userID, true)
	}
	return becameOnline
}

// Disconnect records one fewer open session for the user and reports whether
// the user just transitioned from online to offline. Calls beyond the last
// session are ignored so cleanup stays idempotent.
func (r *Registry) Disconnect(userID int64) (wentOffline bool) {
	r.mu.Lock()
	count, ok := r.counts[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	count--
	if count <= 0 {
		delete(r.counts, userID)
		wentOffline = true
	} else {
		r.counts[userID] = count
	}
	r.mu.Unlock()

	if wentOffline {
		r.reflect(userID, false)
	}
	return wentOffline
}

// OnlineUserIDs returns a sorted snapshot of every user with at least one
// open session, suitable for delivery to a newly connected client.
func (r *Registry) OnlineUserIDs() []int64 {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.counts))
	for id := range r.counts {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SessionCount reports the number of open sessions for a user.
func (r *Registry) SessionCount(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[userID]
}

func (r *Registry) reflect(userID int64, online bool) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var err error
	if online {
		err = r.mirror.Online(ctx, userID)
	} else {
		err = r.mirror.Offline(ctx, userID)
	}
	if err != nil {
		r.log.Warn("presence mirror update failed",
			zap.Int64("user_id", userID),
			zap.Bool("online", online),
			zap.Error(err))
	}
}

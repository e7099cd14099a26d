// Package matchmaking maintains the ordered waiting pool of sessions asking
// for a game. Open tickets pair strictly FIFO; tickets bound to a pending
// game invitation pair directly with their counterpart and take precedence
// over open pairing.
package matchmaking

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"transcendence/coordinator/internal/protocol"
	"transcendence/coordinator/internal/store"
)

// Ticket is a session's standing request to be paired. A session holds at
// most one outstanding ticket.
type Ticket struct {
	SessionID     string
	UserID        int64
	PendingGameID int64 // zero for open-queue tickets
	EnqueuedAt    time.Time
}

// ActiveGames answers whether two users already share an active game, which
// excludes them from being paired again.
type ActiveGames interface {
	SharePair(a, b int64) bool
}

// PairHandler receives both tickets of a successful pairing exactly once.
// For direct pairings the consumed invitation carries the match settings.
// The handler runs while the queue lock is held so no third ticket can
// observe either session mid-transition.
type PairHandler func(a, b Ticket, invitation *store.PendingGame)

// Queue is the global matchmaking waiting pool.
type Queue struct {
	mu        sync.Mutex
	bySession map[string]*Ticket
	order     []*Ticket

	pending store.PendingGames
	active  ActiveGames
	handler PairHandler
	now     func() time.Time
	log     *zap.Logger
}

// Option configures optional queue behaviour.
type Option func(*Queue)

// WithClock injects a deterministic time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) {
		if clock != nil {
			q.now = clock
		}
	}
}

// NewQueue constructs an empty matchmaking queue.
func NewQueue(pending store.PendingGames, active ActiveGames, handler PairHandler, log *zap.Logger, opts ...Option) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{
		bySession: make(map[string]*Ticket),
		pending:   pending,
		active:    active,
		handler:   handler,
		now:       time.Now,
		log:       log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

// Enqueue files a ticket for the session. With a pending game id the ticket
// pairs directly against the counterpart's ticket for the same invitation;
// without one it joins the open FIFO queue.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, userID int64, pendingGameID int64) error {
	var invitation *store.PendingGame
	if pendingGameID != 0 {
		pg, err := q.pending.Find(ctx, pendingGameID)
		if err != nil {
			return protocol.InvalidPendingGame("no pending game found for id %d", pendingGameID)
		}
		if userID != pg.UserID && userID != pg.PeerID {
			return protocol.InvalidPendingGame("user %d is not part of pending game %d", userID, pendingGameID)
		}
		invitation = pg
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.bySession[sessionID]; exists {
		return protocol.AlreadyQueued("session already has an outstanding ticket")
	}
	ticket := &Ticket{
		SessionID:     sessionID,
		UserID:        userID,
		PendingGameID: pendingGameID,
		EnqueuedAt:    q.now(),
	}
	q.bySession[sessionID] = ticket
	q.order = append(q.order, ticket)

	if invitation != nil {
		return q.pairDirectLocked(ctx, ticket)
	}
	q.pairOpenLocked(ticket)
	return nil
}

// Dequeue withdraws the session's ticket. Unknown sessions are a no-op so
// disconnect-triggered cleanup stays idempotent.
func (q *Queue) Dequeue(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(sessionID)
}

// Contains reports whether the session currently holds a ticket.
func (q *Queue) Contains(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.bySession[sessionID]
	return ok
}

// Len reports the number of outstanding tickets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// pairDirectLocked pairs the ticket with the counterpart ticket bound to the
// same invitation, consuming the invitation exactly once.
func (q *Queue) pairDirectLocked(ctx context.Context, ticket *Ticket) error {
	var counterpart *Ticket
	for _, other := range q.order {
		if other == ticket || other.PendingGameID != ticket.PendingGameID {
			continue
		}
		if other.UserID == ticket.UserID {
			continue
		}
		counterpart = other
		break
	}
	if counterpart == nil {
		return nil
	}

	// Consuming under the queue lock is the exclusive claim: a second
	// pairing attempt for the same invitation finds it gone. Only the caller
	// is failed; the counterpart keeps its ticket and can withdraw on its
	// own terms.
	invitation, err := q.pending.Consume(ctx, ticket.PendingGameID)
	if err != nil {
		q.removeLocked(ticket.SessionID)
		q.log.Warn("pending game vanished before pairing",
			zap.Int64("pending_game_id", ticket.PendingGameID),
			zap.String("counterpart_session", counterpart.SessionID))
		return protocol.InvalidPendingGame("pending game %d already consumed", ticket.PendingGameID)
	}
	q.removeLocked(counterpart.SessionID)
	q.removeLocked(ticket.SessionID)
	q.log.Info("direct pairing",
		zap.Int64("pending_game_id", invitation.ID),
		zap.Int64("inviter", invitation.UserID),
		zap.Int64("invitee", invitation.PeerID))
	q.handler(*counterpart, *ticket, invitation)
	return nil
}

// pairOpenLocked pairs the newly filed open ticket with the longest-waiting
// compatible open ticket.
func (q *Queue) pairOpenLocked(ticket *Ticket) {
	for _, other := range q.order {
		if other == ticket || other.PendingGameID != 0 {
			continue
		}
		if other.SessionID == ticket.SessionID || other.UserID == ticket.UserID {
			continue
		}
		if q.active != nil && q.active.SharePair(other.UserID, ticket.UserID) {
			continue
		}
		q.removeLocked(other.SessionID)
		q.removeLocked(ticket.SessionID)
		q.log.Info("open pairing",
			zap.Int64("user_a", other.UserID),
			zap.Int64("user_b", ticket.UserID))
		q.handler(*other, *ticket, nil)
		return
	}
}

func (q *Queue) removeLocked(sessionID string) {
	ticket, ok := q.bySession[sessionID]
	if !ok {
		return
	}
	delete(q.bySession, sessionID)
	for i, other := range q.order {
		if other == ticket {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

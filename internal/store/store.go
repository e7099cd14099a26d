// Package store holds the repository boundaries the coordinator consumes.
// Persistence of users, channels and messages belongs to the REST layer; the
// coordinator only needs lookup-by-id for channels and consume-once semantics
// for pending game invitations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that the referenced entity does not exist, or that a
// pending game was already consumed.
var ErrNotFound = errors.New("store: not found")

// PendingGame is a stored invitation from one user to a specific peer with
// fixed match settings. It is consumed at most once by matchmaking.
type PendingGame struct {
	ID             int64
	UserID         int64 // inviter
	PeerID         int64 // invitee
	Map            int
	BallVelocity   int
	PaddleVelocity int
	NbGames        int
	CreatedAt      time.Time
}

// Channel is the slice of the chat-channel entity the coordinator reads.
type Channel struct {
	ID      int64
	Name    string
	OwnerID int64
	Direct  bool
}

// PendingGames looks up and consumes pending game invitations.
type PendingGames interface {
	// Find returns the pending game if it exists and is unconsumed.
	Find(ctx context.Context, id int64) (*PendingGame, error)
	// Consume atomically removes the pending game, returning it exactly
	// once. A second Consume for the same id reports ErrNotFound.
	Consume(ctx context.Context, id int64) (*PendingGame, error)
}

// Channels resolves channel identifiers for room joins.
type Channels interface {
	Find(ctx context.Context, id int64) (*Channel, error)
}

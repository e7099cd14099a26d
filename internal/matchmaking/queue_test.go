package matchmaking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcendence/coordinator/internal/protocol"
	"transcendence/coordinator/internal/store"
)

type pairRecorder struct {
	pairs       [][2]string
	invitations []*store.PendingGame
}

func (r *pairRecorder) handle(a, b Ticket, invitation *store.PendingGame) {
	r.pairs = append(r.pairs, [2]string{a.SessionID, b.SessionID})
	r.invitations = append(r.invitations, invitation)
}

type noActiveGames struct{}

func (noActiveGames) SharePair(int64, int64) bool { return false }

type pairedUsers struct{ a, b int64 }

func (p pairedUsers) SharePair(x, y int64) bool {
	return (x == p.a && y == p.b) || (x == p.b && y == p.a)
}

func newTestQueue(t *testing.T, active ActiveGames) (*Queue, *store.MemoryStore, *pairRecorder) {
	t.Helper()
	mem := store.NewMemoryStore()
	rec := &pairRecorder{}
	return NewQueue(mem, active, rec.handle, nil), mem, rec
}

func TestOpenPairingIsFIFO(t *testing.T) {
	q, _, rec := newTestQueue(t, noActiveGames{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "sa", 1, 0))
	require.NoError(t, q.Enqueue(ctx, "sb", 2, 0))
	require.NoError(t, q.Enqueue(ctx, "sc", 3, 0))

	// The first two pair together; the third waits.
	require.Len(t, rec.pairs, 1)
	assert.Equal(t, [2]string{"sa", "sb"}, rec.pairs[0])
	assert.Nil(t, rec.invitations[0])
	assert.True(t, q.Contains("sc"))
	assert.Equal(t, 1, q.Len())
}

func TestOpenPairingSkipsSameUser(t *testing.T) {
	q, _, rec := newTestQueue(t, noActiveGames{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "tab1", 1, 0))
	require.NoError(t, q.Enqueue(ctx, "tab2", 1, 0))
	assert.Empty(t, rec.pairs)

	require.NoError(t, q.Enqueue(ctx, "sb", 2, 0))
	require.Len(t, rec.pairs, 1)
	assert.Equal(t, [2]string{"tab1", "sb"}, rec.pairs[0])
}

func TestOpenPairingSkipsUsersSharingActiveGame(t *testing.T) {
	q, _, rec := newTestQueue(t, pairedUsers{a: 1, b: 2})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "sa", 1, 0))
	require.NoError(t, q.Enqueue(ctx, "sb", 2, 0))
	assert.Empty(t, rec.pairs)

	require.NoError(t, q.Enqueue(ctx, "sc", 3, 0))
	require.Len(t, rec.pairs, 1)
	assert.Equal(t, [2]string{"sa", "sc"}, rec.pairs[0])
}

func TestEnqueueTwiceReturnsAlreadyQueued(t *testing.T) {
	q, _, _ := newTestQueue(t, noActiveGames{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "sa", 1, 0))
	err := q.Enqueue(ctx, "sa", 1, 0)

	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.KindAlreadyQueued, perr.Kind)
}

func TestEnqueueUnknownPendingGame(t *testing.T) {
	q, _, _ := newTestQueue(t, noActiveGames{})

	err := q.Enqueue(context.Background(), "sa", 1, 99)

	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.KindInvalidPendingGame, perr.Kind)
	assert.False(t, q.Contains("sa"))
}

func TestEnqueueOutsiderOnPendingGame(t *testing.T) {
	q, mem, _ := newTestQueue(t, noActiveGames{})
	mem.PutPendingGame(&store.PendingGame{ID: 5, UserID: 1, PeerID: 2})

	err := q.Enqueue(context.Background(), "sx", 3, 5)

	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.KindInvalidPendingGame, perr.Kind)
}

func TestDirectPairingConsumesInvitation(t *testing.T) {
	q, mem, rec := newTestQueue(t, noActiveGames{})
	mem.PutPendingGame(&store.PendingGame{ID: 5, UserID: 1, PeerID: 2, Map: 2, BallVelocity: 7, PaddleVelocity: 12, NbGames: 3})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "sa", 1, 5))
	require.Empty(t, rec.pairs)
	require.NoError(t, q.Enqueue(ctx, "sb", 2, 5))

	require.Len(t, rec.pairs, 1)
	assert.Equal(t, [2]string{"sa", "sb"}, rec.pairs[0])
	require.NotNil(t, rec.invitations[0])
	assert.Equal(t, int64(5), rec.invitations[0].ID)
	assert.Equal(t, 3, rec.invitations[0].NbGames)
	assert.Equal(t, 0, q.Len())

	// The invitation is gone once consumed.
	_, err := mem.Find(ctx, 5)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDirectPairingTakesPrecedenceOverOpenQueue(t *testing.T) {
	q, mem, rec := newTestQueue(t, noActiveGames{})
	mem.PutPendingGame(&store.PendingGame{ID: 5, UserID: 1, PeerID: 2})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "open", 9, 0))
	require.NoError(t, q.Enqueue(ctx, "sa", 1, 5))
	require.NoError(t, q.Enqueue(ctx, "sb", 2, 5))

	require.Len(t, rec.pairs, 1)
	assert.Equal(t, [2]string{"sa", "sb"}, rec.pairs[0])
	assert.True(t, q.Contains("open"))
}

func TestConsumedInvitationRejectsLateEnqueue(t *testing.T) {
	q, mem, rec := newTestQueue(t, noActiveGames{})
	mem.PutPendingGame(&store.PendingGame{ID: 5, UserID: 1, PeerID: 2})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "sa", 1, 5))
	// The invitation disappears before the counterpart arrives.
	_, err := mem.Consume(ctx, 5)
	require.NoError(t, err)

	err = q.Enqueue(ctx, "sb", 2, 5)
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.KindInvalidPendingGame, perr.Kind)
	assert.Empty(t, rec.pairs)
	// The first ticket stays queued; only the late caller is refused.
	assert.True(t, q.Contains("sa"))
	assert.False(t, q.Contains("sb"))
}

// unconsumablePending resolves lookups but always fails the consume, as a
// store would when the invitation vanished between Find and Consume.
type unconsumablePending struct{ pg *store.PendingGame }

func (s unconsumablePending) Find(ctx context.Context, id int64) (*store.PendingGame, error) {
	if s.pg != nil && s.pg.ID == id {
		return s.pg, nil
	}
	return nil, store.ErrNotFound
}

func (s unconsumablePending) Consume(ctx context.Context, id int64) (*store.PendingGame, error) {
	return nil, store.ErrNotFound
}

func TestConsumeFailureKeepsCounterpartQueued(t *testing.T) {
	rec := &pairRecorder{}
	pending := unconsumablePending{pg: &store.PendingGame{ID: 5, UserID: 1, PeerID: 2}}
	q := NewQueue(pending, noActiveGames{}, rec.handle, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "sa", 1, 5))

	err := q.Enqueue(ctx, "sb", 2, 5)
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.KindInvalidPendingGame, perr.Kind)
	assert.Empty(t, rec.pairs)
	assert.True(t, q.Contains("sa"))
	assert.False(t, q.Contains("sb"))
}

func TestDequeueIsIdempotent(t *testing.T) {
	q, _, rec := newTestQueue(t, noActiveGames{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "sa", 1, 0))
	q.Dequeue("sa")
	q.Dequeue("sa")
	q.Dequeue("ghost")

	assert.False(t, q.Contains("sa"))
	require.NoError(t, q.Enqueue(ctx, "sb", 2, 0))
	assert.Empty(t, rec.pairs)
}

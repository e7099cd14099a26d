package game

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"transcendence/coordinator/internal/protocol"
)

// Coordinator indexes every active game and enforces the pairing invariants:
// at most one game per unordered player pair, and each player in at most one
// active game.
type Coordinator struct {
	mu     sync.RWMutex
	games  map[string]*Game
	byUser map[int64]string

	physics Physics
	now     func() time.Time
	log     *zap.Logger
}

// CoordinatorOption configures optional coordinator behaviour.
type CoordinatorOption func(*Coordinator)

// WithPhysics overrides the default bounds-only physics collaborator.
func WithPhysics(physics Physics) CoordinatorOption {
	return func(c *Coordinator) {
		if physics != nil {
			c.physics = physics
		}
	}
}

// WithClock injects a deterministic time source for tests.
func WithClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewCoordinator constructs an empty game coordinator.
func NewCoordinator(log *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		games:   make(map[string]*Game),
		byUser:  make(map[int64]string),
		physics: BoundsPhysics{},
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Create allocates a game for the paired players in waiting_start status.
// It fails with a conflict when either player is already in an active game,
// which also covers the one-game-per-pair invariant.
func (c *Coordinator) Create(player1, player2 int64, settings Settings) (*Game, error) {
	if player1 == player2 {
		return nil, protocol.Conflict("cannot pair user %d with itself", player1)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.byUser[player1]; ok {
		return nil, protocol.Conflict("user %d already in game %s", player1, id)
	}
	if id, ok := c.byUser[player2]; ok {
		return nil, protocol.Conflict("user %d already in game %s", player2, id)
	}

	g := &Game{
		id:        uuid.NewString(),
		player1:   player1,
		player2:   player2,
		settings:  settings,
		status:    StatusWaitingStart,
		paddles:   make(map[int64]float64),
		votes:     make(map[int64]bool),
		forfeited: make(map[int64]bool),
		createdAt: c.now(),
	}
	g.resetLocked()
	c.games[g.id] = g
	c.byUser[player1] = g.id
	c.byUser[player2] = g.id

	c.log.Info("game created",
		zap.String("game_id", g.id),
		zap.Int64("player1", player1),
		zap.Int64("player2", player2))
	return g, nil
}

// Get returns the active game with the given id.
func (c *Coordinator) Get(gameID string) (*Game, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.games[gameID]
	return g, ok
}

// ByUser returns the active game the user plays in, if any.
func (c *Coordinator) ByUser(userID int64) (*Game, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byUser[userID]
	if !ok {
		return nil, false
	}
	g, ok := c.games[id]
	return g, ok
}

// PlayingUserIDs returns the sorted ids of every user in an active game, for
// the snapshot a freshly connected session receives.
func (c *Coordinator) PlayingUserIDs() []int64 {
	c.mu.RLock()
	ids := make([]int64, 0, len(c.byUser))
	for id := range c.byUser {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// InGame reports whether the user currently belongs to an active game.
func (c *Coordinator) InGame(userID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byUser[userID]
	return ok
}

// SharePair reports whether the two users already share an active game.
func (c *Coordinator) SharePair(a, b int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idA, okA := c.byUser[a]
	idB, okB := c.byUser[b]
	return okA && okB && idA == idB
}

// Start transitions the game from waiting_start to running. A second start is
// a silent no-op.
func (c *Coordinator) Start(gameID string) {
	g, ok := c.Get(gameID)
	if !ok {
		return
	}
	g.mu.Lock()
	if g.status == StatusWaitingStart {
		g.status = StatusRunning
	}
	g.mu.Unlock()
}

// Pause transitions a running game to paused_for_restart at the end of a
// round, so restart votes can be collected.
func (c *Coordinator) Pause(gameID string) error {
	g, ok := c.Get(gameID)
	if !ok {
		return protocol.NotFound("no game for id %q", gameID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusRunning {
		return protocol.Conflict("game %s cannot pause from %s", gameID, g.status)
	}
	g.status = StatusPausedForRestart
	return nil
}

// Move applies a paddle move for the player and returns the accepted
// position. Moves are only legal while the game is running.
func (c *Coordinator) Move(gameID string, userID int64, y float64) (float64, error) {
	g, ok := c.Get(gameID)
	if !ok {
		return 0, protocol.NotFound("no game for id %q", gameID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusRunning {
		return 0, protocol.NotFound("game %s is not running", gameID)
	}
	if !g.isPlayer(userID) {
		return 0, protocol.Forbidden("user %d is not a player of game %s", userID, gameID)
	}
	accepted, ok := c.physics.ValidatePaddle(g.settings, y)
	if !ok {
		return 0, protocol.InvalidInput("position %v outside playable bound", y)
	}
	g.paddles[userID] = accepted
	return accepted, nil
}

// RequestRestart records the player's restart vote. When both players voted,
// or the option permits a unilateral restart, the game resets and returns to
// running.
func (c *Coordinator) RequestRestart(gameID string, userID int64, option RestartOption) (restarted bool, err error) {
	g, ok := c.Get(gameID)
	if !ok {
		return false, protocol.NotFound("no game for id %q", gameID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isPlayer(userID) {
		return false, protocol.Forbidden("user %d is not a player of game %s", userID, gameID)
	}
	if g.status != StatusFinished && g.status != StatusPausedForRestart {
		return false, protocol.Conflict("game %s cannot restart from %s", gameID, g.status)
	}
	g.votes[userID] = true
	if option != RestartOptionForce && (!g.votes[g.player1] || !g.votes[g.player2]) {
		return false, nil
	}
	g.status = StatusRunning
	g.resetLocked()
	return true, nil
}

// HandleDisconnect marks the player as forfeited. When the other player is
// already gone the game is torn down silently and removed; otherwise the game
// survives so the remaining player can react to the exit notification.
func (c *Coordinator) HandleDisconnect(userID int64) (g *Game, bothGone bool) {
	c.mu.Lock()
	id, ok := c.byUser[userID]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	g = c.games[id]
	c.mu.Unlock()
	if g == nil {
		return nil, false
	}

	g.mu.Lock()
	g.forfeited[userID] = true
	bothGone = g.forfeited[g.other(userID)]
	if bothGone {
		g.status = StatusFinished
	}
	g.mu.Unlock()

	if bothGone {
		c.remove(g)
	}
	return g, bothGone
}

// Reconnect clears the player's forfeit flag after a mid-game reconnect.
func (c *Coordinator) Reconnect(gameID string, userID int64) (*Game, error) {
	g, ok := c.Get(gameID)
	if !ok {
		return nil, protocol.NotFound("no game for id %q", gameID)
	}
	g.mu.Lock()
	if g.isPlayer(userID) {
		delete(g.forfeited, userID)
	}
	g.mu.Unlock()
	return g, nil
}

// ConfirmExit finishes a game whose opponent forfeited, once the remaining
// player or a timeout collaborator confirms completion.
func (c *Coordinator) ConfirmExit(gameID string) (*Game, error) {
	g, ok := c.Get(gameID)
	if !ok {
		return nil, protocol.NotFound("no game for id %q", gameID)
	}
	g.mu.Lock()
	g.status = StatusFinished
	g.mu.Unlock()
	c.remove(g)
	return g, nil
}

func (c *Coordinator) remove(g *Game) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.games[g.id]; !ok || current != g {
		return
	}
	delete(c.games, g.id)
	if c.byUser[g.player1] == g.id {
		delete(c.byUser, g.player1)
	}
	if c.byUser[g.player2] == g.id {
		delete(c.byUser, g.player2)
	}
	c.log.Info("game removed", zap.String("game_id", g.id))
}

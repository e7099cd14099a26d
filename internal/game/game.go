// Package game owns the lifecycle of active two-player matches: creation from
// a matchmaking pair, move processing, restart negotiation, and disconnect
// handling. The coordinator is the sole authority for game state transitions.
package game

import (
	"sync"
	"time"
)

// Status is the lifecycle state of one game.
type Status string

const (
	StatusWaitingStart     Status = "waiting_start"
	StatusRunning          Status = "running"
	StatusPausedForRestart Status = "paused_for_restart"
	StatusFinished         Status = "finished"
)

// Settings are the fixed match parameters negotiated before the game starts.
type Settings struct {
	Map            int `json:"map"`
	BallVelocity   int `json:"ball_velocity"`
	PaddleVelocity int `json:"paddle_velocity"`
	NbGames        int `json:"nb_games"`
}

// RestartOption controls how a restart request is counted.
type RestartOption string

const (
	// RestartOptionVote requires both players to request a restart.
	RestartOptionVote RestartOption = "vote"
	// RestartOptionForce restarts unilaterally, e.g. after a forfeit.
	RestartOptionForce RestartOption = "force"
)

// Playable field bounds. Paddle positions are expressed as the top edge Y.
const (
	FieldHeight  = 600.0
	PaddleHeight = 100.0
)

// Physics validates move requests against the playable bound. The concrete
// ball/paddle simulation lives with the physics collaborator; this core only
// needs acceptance decisions.
type Physics interface {
	ValidatePaddle(settings Settings, y float64) (accepted float64, ok bool)
}

// BoundsPhysics is the default physics collaborator: a paddle is valid while
// fully inside the field.
type BoundsPhysics struct{}

// ValidatePaddle accepts positions within [0, FieldHeight-PaddleHeight].
func (BoundsPhysics) ValidatePaddle(_ Settings, y float64) (float64, bool) {
	if y < 0 || y > FieldHeight-PaddleHeight {
		return 0, false
	}
	return y, true
}

// Game is the authoritative state of one active match. All fields behind mu
// are owned by the coordinator; callers only see snapshots.
type Game struct {
	mu sync.Mutex

	id       string
	player1  int64
	player2  int64
	settings Settings

	status    Status
	score     [2]int
	paddles   map[int64]float64
	votes     map[int64]bool
	forfeited map[int64]bool

	createdAt time.Time
}

// ID returns the game identifier.
func (g *Game) ID() string { return g.id }

// Players returns both player identities.
func (g *Game) Players() (int64, int64) { return g.player1, g.player2 }

// Settings returns the fixed match parameters.
func (g *Game) Settings() Settings { return g.settings }

// Status returns the current lifecycle state.
func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// PaddleY reports the last accepted paddle position for the player.
func (g *Game) PaddleY(userID int64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paddles[userID]
}

// Forfeited reports whether the player currently carries a forfeit flag.
func (g *Game) Forfeited(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.forfeited[userID]
}

func (g *Game) isPlayer(userID int64) bool {
	return userID == g.player1 || userID == g.player2
}

func (g *Game) other(userID int64) int64 {
	if userID == g.player1 {
		return g.player2
	}
	return g.player1
}

func (g *Game) resetLocked() {
	g.score = [2]int{}
	center := (FieldHeight - PaddleHeight) / 2
	g.paddles[g.player1] = center
	g.paddles[g.player2] = center
	g.votes = make(map[int64]bool)
}

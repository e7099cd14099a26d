package main

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"transcendence/coordinator/internal/events"
	"transcendence/coordinator/internal/game"
	"transcendence/coordinator/internal/journal"
	"transcendence/coordinator/internal/matchmaking"
	"transcendence/coordinator/internal/presence"
	"transcendence/coordinator/internal/protocol"
	"transcendence/coordinator/internal/rooms"
	"transcendence/coordinator/internal/store"
)

// Session is one live logical connection for a user. A user may hold several
// at once (multiple tabs); each gets its own Session.
type Session struct {
	ID     string
	UserID int64

	mu     sync.Mutex
	gameID string
}

// GameID returns the game this session is currently attached to, if any.
func (s *Session) GameID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameID
}

func (s *Session) setGameID(id string) {
	s.mu.Lock()
	s.gameID = id
	s.mu.Unlock()
}

// Service wires the five coordination components together and is the single
// entry point for both the websocket dispatcher and the REST collaborators.
type Service struct {
	log       *zap.Logger
	presence  *presence.Registry
	rooms     *rooms.Directory
	broadcast *events.Broadcaster
	queue     *matchmaking.Queue
	games     *game.Coordinator
	channels  store.Channels
	journal   *journal.Journal

	mu       sync.RWMutex
	sessions map[string]*Session
}

// ServiceDeps carries the collaborators a Service needs. Journal may be nil.
type ServiceDeps struct {
	Presence *presence.Registry
	Rooms    *rooms.Directory
	Games    *game.Coordinator
	Channels store.Channels
	Pending  store.PendingGames
	Journal  *journal.Journal
}

// NewService builds the coordination service on top of the given transport.
func NewService(deps ServiceDeps, transport events.Transport, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Service{
		log:      log,
		presence: deps.Presence,
		rooms:    deps.Rooms,
		games:    deps.Games,
		channels: deps.Channels,
		journal:  deps.Journal,
		sessions: make(map[string]*Session),
	}

	var opts []events.Option
	if deps.Journal != nil {
		opts = append(opts, events.WithSink(deps.Journal))
	}
	svc.broadcast = events.NewBroadcaster(deps.Rooms, transport, log, opts...)
	svc.queue = matchmaking.NewQueue(deps.Pending, deps.Games, svc.onPaired, log)
	return svc
}

// HandleConnect registers presence for a freshly authenticated session,
// announces the user when this is their first open session, delivers the
// online snapshot, and subscribes the session to its personal room.
func (svc *Service) HandleConnect(s *Session) {
	svc.mu.Lock()
	svc.sessions[s.ID] = s
	svc.mu.Unlock()

	svc.rooms.Register(s.ID)
	if becameOnline := svc.presence.Connect(s.UserID); becameOnline {
		svc.broadcast.ToAll(protocol.EventClientConnectedJoin, s.UserID, s.ID)
	}
	svc.broadcast.ToSession(s.ID, protocol.EventClientConnectedList, svc.presence.OnlineUserIDs())
	svc.broadcast.ToSession(s.ID, protocol.EventClientPlayingList, svc.games.PlayingUserIDs())
	svc.rooms.Join(s.ID, protocol.UserRoom(s.UserID))

	svc.log.Info("session connected",
		zap.String("session_id", s.ID),
		zap.Int64("user_id", s.UserID))
}

// HandleDisconnect tears down everything the session touched: its ticket,
// its rooms, its presence count, and its game participation. Cleanup is
// idempotent and never fails outward.
func (svc *Service) HandleDisconnect(s *Session) {
	defer func() {
		if r := recover(); r != nil {
			svc.log.Error("disconnect cleanup panicked", zap.Any("panic", r))
		}
	}()

	svc.mu.Lock()
	delete(svc.sessions, s.ID)
	svc.mu.Unlock()

	svc.queue.Dequeue(s.ID)

	if s.GameID() != "" {
		svc.handleGameDisconnect(s.UserID)
	}

	if wentOffline := svc.presence.Disconnect(s.UserID); wentOffline {
		svc.broadcast.ToAll(protocol.EventClientConnectedQuit, s.UserID, s.ID)
	}
	svc.rooms.Forget(s.ID)

	svc.log.Info("session disconnected",
		zap.String("session_id", s.ID),
		zap.Int64("user_id", s.UserID))
}

// handleGameDisconnect applies the forfeit policy: a lone disconnect notifies
// the game room so the remaining player can react; once both players are gone
// the game is torn down silently, since nobody remains to receive an event.
func (svc *Service) handleGameDisconnect(userID int64) {
	g, bothGone := svc.games.HandleDisconnect(userID)
	if g == nil {
		return
	}
	if bothGone {
		if svc.journal != nil {
			if err := svc.journal.Close(g.ID()); err != nil {
				svc.log.Warn("journal close", zap.String("game_id", g.ID()), zap.Error(err))
			}
		}
		return
	}
	svc.broadcast.ToRoom(protocol.GameRoom(g.ID()), protocol.EventGameExit,
		map[string]string{"gameId": g.ID()})
}

// ChannelConnect switches the session onto the channel's room. A session is
// in at most one channel room at a time.
func (svc *Service) ChannelConnect(ctx context.Context, s *Session, channelID int64) error {
	ch, err := svc.channels.Find(ctx, channelID)
	if err != nil {
		return protocol.NotFound("channel not found")
	}
	previous := svc.rooms.SwitchChannelRoom(s.ID, protocol.ChannelRoom(ch.ID))
	svc.log.Debug("channel switch",
		zap.String("session_id", s.ID),
		zap.Int64("channel_id", ch.ID),
		zap.String("previous_room", previous))
	return nil
}

// ChannelDisconnect leaves the session's current channel room, if any.
func (svc *Service) ChannelDisconnect(s *Session) {
	svc.rooms.LeaveChannelRoom(s.ID)
}

// MatchmakingJoin files a matchmaking ticket for the session, optionally
// bound to a pending game invitation.
func (svc *Service) MatchmakingJoin(ctx context.Context, s *Session, pendingGameID int64) error {
	return svc.queue.Enqueue(ctx, s.ID, s.UserID, pendingGameID)
}

// MatchmakingLeave withdraws the session's ticket, if any.
func (svc *Service) MatchmakingLeave(s *Session) {
	svc.queue.Dequeue(s.ID)
}

// onPaired receives each matchmaking pair exactly once and turns it into a
// live game: create, join both sessions to the game room, announce, start.
func (svc *Service) onPaired(a, b matchmaking.Ticket, invitation *store.PendingGame) {
	settings := defaultSettings()
	if invitation != nil {
		settings = game.Settings{
			Map:            invitation.Map,
			BallVelocity:   invitation.BallVelocity,
			PaddleVelocity: invitation.PaddleVelocity,
			NbGames:        invitation.NbGames,
		}
	}

	g, err := svc.games.Create(a.UserID, b.UserID, settings)
	if err != nil {
		svc.log.Warn("pairing rejected by game coordinator",
			zap.Int64("user_a", a.UserID),
			zap.Int64("user_b", b.UserID),
			zap.Error(err))
		return
	}

	roomKey := protocol.GameRoom(g.ID())
	svc.rooms.Join(a.SessionID, roomKey)
	svc.rooms.Join(b.SessionID, roomKey)
	aLive := svc.attachSessionToGame(a.SessionID, g.ID())
	bLive := svc.attachSessionToGame(b.SessionID, g.ID())

	if svc.journal != nil {
		if err := svc.journal.Open(g.ID()); err != nil {
			svc.log.Warn("journal open", zap.String("game_id", g.ID()), zap.Error(err))
		}
	}

	player1, player2 := g.Players()
	svc.broadcast.ToRoom(roomKey, protocol.EventGameStarting, map[string]any{
		"gameId":  g.ID(),
		"player1": player1,
		"player2": player2,
	})
	svc.broadcast.ToAll(protocol.EventClientPlayingJoin, player1, "")
	svc.broadcast.ToAll(protocol.EventClientPlayingJoin, player2, "")
	svc.games.Start(g.ID())

	// A session that disconnected between consuming the ticket and now has
	// already run its cleanup, which could not see this game yet. Apply the
	// forfeit policy on its behalf so the game never dangles.
	if !aLive {
		svc.handleGameDisconnect(a.UserID)
	}
	if !bLive {
		svc.handleGameDisconnect(b.UserID)
	}
}

// attachSessionToGame records the game on the session and reports whether the
// session was still registered.
func (svc *Service) attachSessionToGame(sessionID, gameID string) bool {
	svc.mu.RLock()
	s := svc.sessions[sessionID]
	svc.mu.RUnlock()
	if s == nil {
		return false
	}
	s.setGameID(gameID)
	return true
}

// GameConnect joins the session to an existing game's room and returns both
// player identities. Reconnecting players shed their forfeit flag.
func (svc *Service) GameConnect(s *Session, gameID string) (player1, player2 int64, err error) {
	g, err := svc.games.Reconnect(gameID, s.UserID)
	if err != nil {
		return 0, 0, err
	}
	svc.rooms.Join(s.ID, protocol.GameRoom(gameID))
	s.setGameID(gameID)
	player1, player2 = g.Players()
	return player1, player2, nil
}

// GameMove validates and applies a paddle move, returning the accepted
// position for the acknowledgement.
func (svc *Service) GameMove(s *Session, gameID string, y float64) (float64, error) {
	return svc.games.Move(gameID, s.UserID, y)
}

// GameRestart records the session's restart vote and broadcasts the restart
// once it takes effect.
func (svc *Service) GameRestart(s *Session, gameID string, option game.RestartOption) error {
	restarted, err := svc.games.RequestRestart(gameID, s.UserID, option)
	if err != nil {
		return err
	}
	if restarted {
		svc.broadcast.ToRoom(protocol.GameRoom(gameID), protocol.EventGameRestart,
			map[string]string{"gameId": gameID})
	}
	return nil
}

// PauseGame suspends a running game at the end of a round so the players'
// restart votes can be collected. Called by the round-end collaborator over
// the REST ingress.
func (svc *Service) PauseGame(gameID string) error {
	return svc.games.Pause(gameID)
}

// ConfirmGameExit finishes a forfeited game once the remaining player (or a
// watchdog) confirms, announcing the players as no longer playing.
func (svc *Service) ConfirmGameExit(gameID string) error {
	g, err := svc.games.ConfirmExit(gameID)
	if err != nil {
		return err
	}
	player1, player2 := g.Players()
	svc.broadcast.ToAll(protocol.EventClientPlayingQuit, player1, "")
	svc.broadcast.ToAll(protocol.EventClientPlayingQuit, player2, "")
	if svc.journal != nil {
		if err := svc.journal.Close(g.ID()); err != nil {
			svc.log.Warn("journal close", zap.String("game_id", g.ID()), zap.Error(err))
		}
	}
	return nil
}

// BroadcastToChannel pushes a backend-originated event to every session in
// the channel's room: new messages, edits, membership and ownership changes.
func (svc *Service) BroadcastToChannel(channelID int64, event protocol.Event, payload json.RawMessage) {
	svc.broadcast.ToRoom(protocol.ChannelRoom(channelID), event, payload)
}

// NotifyUsers pushes an event to every session of each listed user via their
// personal rooms: relationship changes, achievement unlocks, channel
// invitations.
func (svc *Service) NotifyUsers(userIDs []int64, event protocol.Event, payload json.RawMessage) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, protocol.UserRoom(id))
	}
	svc.broadcast.ToRooms(keys, event, payload)
}

// BroadcastAll pushes an event to every connected session, e.g. a newly
// created public channel.
func (svc *Service) BroadcastAll(event protocol.Event, payload json.RawMessage) {
	svc.broadcast.ToAll(event, payload, "")
}

// Stats reports live session and online user counts for the metrics surface.
func (svc *Service) Stats() (sessions, users int) {
	svc.mu.RLock()
	sessions = len(svc.sessions)
	svc.mu.RUnlock()
	return sessions, len(svc.presence.OnlineUserIDs())
}

func defaultSettings() game.Settings {
	return game.Settings{Map: 0, BallVelocity: 5, PaddleVelocity: 10, NbGames: 1}
}

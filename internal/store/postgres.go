package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the repository boundaries on top of the product's
// relational schema.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pgx pool using the provided DSN.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

const pendingGameColumns = `id, user_id, peer_id, map, ball_velocity, paddle_velocity, nb_games, created_at`

// Find returns the unconsumed pending game with the given id.
func (s *PostgresStore) Find(ctx context.Context, id int64) (*PendingGame, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pendingGameColumns+` FROM pending_games WHERE id = $1`, id)
	return scanPendingGame(row)
}

// Consume atomically removes and returns the pending game. DELETE RETURNING
// guarantees at-most-once consumption even across concurrent callers.
func (s *PostgresStore) Consume(ctx context.Context, id int64) (*PendingGame, error) {
	row := s.pool.QueryRow(ctx,
		`DELETE FROM pending_games WHERE id = $1 RETURNING `+pendingGameColumns, id)
	return scanPendingGame(row)
}

// FindChannel resolves a channel by id.
func (s *PostgresStore) FindChannel(ctx context.Context, id int64) (*Channel, error) {
	var ch Channel
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, direct FROM channels WHERE id = $1`, id).
		Scan(&ch.ID, &ch.Name, &ch.OwnerID, &ch.Direct)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find channel %d: %w", id, err)
	}
	return &ch, nil
}

// PostgresChannels adapts the store to the Channels interface.
type PostgresChannels struct{ *PostgresStore }

// Find resolves the channel by id.
func (c PostgresChannels) Find(ctx context.Context, id int64) (*Channel, error) {
	return c.FindChannel(ctx, id)
}

func scanPendingGame(row pgx.Row) (*PendingGame, error) {
	var pg PendingGame
	err := row.Scan(&pg.ID, &pg.UserID, &pg.PeerID, &pg.Map,
		&pg.BallVelocity, &pg.PaddleVelocity, &pg.NbGames, &pg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending game: %w", err)
	}
	return &pg, nil
}

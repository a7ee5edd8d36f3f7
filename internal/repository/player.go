package repository

import (
	"context"
	"database/sql"
	"errors"
	"rival-tracker/internal/domain"
	"time"

	"github.com/rs/zerolog"
)

const playerColumns = `user_num, nickname, character, game_count, first_seen_at, last_seen_at, created_at, updated_at`

type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{
		db:     sqlDB,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (*domain.Player, error) {
	var (
		p                   domain.Player
		firstSeen, lastSeen sql.NullTime
	)
	err := row.Scan(&p.UserNum, &p.Nickname, &p.Character, &p.GameCount, &firstSeen, &lastSeen, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.FirstSeenAt = nullTimePtr(firstSeen)
	p.LastSeenAt = nullTimePtr(lastSeen)
	return &p, nil
}

// GetByNickname matches case-insensitively. It returns nil, nil when no
// player is cached under that nickname.
func (r *PlayerRepository) GetByNickname(ctx context.Context, nickname string) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE UPPER(nickname) = UPPER(?) ORDER BY updated_at DESC LIMIT 1`,
		nickname)

	player, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Debug().Str("nickname", nickname).Msg("player not cached")
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get player by nickname", err)
	}
	return player, nil
}

func (r *PlayerRepository) GetByUserNum(ctx context.Context, userNum int64) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE user_num = ?`, userNum)

	player, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get player by user num", err)
	}
	return player, nil
}

// Upsert inserts the player or replaces every mutable column. A nickname
// change rewrites the existing row rather than adding a second one.
func (r *PlayerRepository) Upsert(ctx context.Context, player *domain.Player) error {
	now := time.Now().UTC()
	createdAt := player.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := player.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO players (`+playerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_num) DO UPDATE SET
			nickname      = excluded.nickname,
			character     = excluded.character,
			game_count    = excluded.game_count,
			first_seen_at = excluded.first_seen_at,
			last_seen_at  = excluded.last_seen_at,
			updated_at    = excluded.updated_at`,
		player.UserNum,
		player.Nickname,
		player.Character,
		player.GameCount,
		timePtrArg(player.FirstSeenAt),
		timePtrArg(player.LastSeenAt),
		createdAt.UTC(),
		updatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error().Err(err).Int64("user_num", player.UserNum).Msg("failed to upsert player")
		return storageError("upsert player", err)
	}
	return nil
}

// UpsertSummary caches nickname and character only. Aggregate-derived
// columns of an existing row are left alone. New rows get a zero updated_at,
// marking them as never refreshed.
func (r *PlayerRepository) UpsertSummary(ctx context.Context, summary domain.ShortProfile) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO players (user_num, nickname, character, game_count, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (user_num) DO UPDATE SET
			nickname  = excluded.nickname,
			character = excluded.character`,
		summary.UserNum, summary.Nickname, summary.Character, now, time.Time{}.UTC(),
	)
	if err != nil {
		return storageError("upsert player summary", err)
	}
	return nil
}

// ListStale returns up to limit players whose last refresh and last refresh
// attempt are both older than the cutoff, least recently touched first.
// Players only known from summaries were never refreshed and are skipped.
func (r *PlayerRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Player, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+playerColumns+` FROM players
		WHERE updated_at > ?
		  AND MAX(updated_at, COALESCE(refresh_attempted_at, updated_at)) < ?
		ORDER BY MAX(updated_at, COALESCE(refresh_attempted_at, updated_at)) ASC, user_num ASC
		LIMIT ?`,
		time.Time{}.UTC(), before.UTC(), limit)
	if err != nil {
		return nil, storageError("list stale players", err)
	}
	defer rows.Close()

	players := []domain.Player{}
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, storageError("scan stale player", err)
		}
		players = append(players, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list stale players", err)
	}
	return players, nil
}

// MarkRefreshAttempted stamps a background refresh attempt so a player whose
// refresh fails or no longer resolves drops behind the rest of the queue.
func (r *PlayerRepository) MarkRefreshAttempted(ctx context.Context, userNum int64, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE players SET refresh_attempted_at = ? WHERE user_num = ?`, at.UTC(), userNum); err != nil {
		return storageError("mark refresh attempt", err)
	}
	return nil
}

func (r *PlayerRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storageError("ping", err)
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timePtrArg(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

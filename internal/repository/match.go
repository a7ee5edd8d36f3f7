package repository

import (
	"context"
	"database/sql"
	"fmt"
	"rival-tracker/internal/constants"
	"rival-tracker/internal/domain"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type MatchRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewMatchRepository(sqlDB *sql.DB, logger zerolog.Logger) *MatchRepository {
	return &MatchRepository{
		db:     sqlDB,
		logger: logger,
	}
}

const matchInsertPrefix = `INSERT INTO matches (game_id, user_num, nickname, character, killer_user_num, killer_user_num2, killer_user_num3, started_at, created_at) VALUES `

const matchRowPlaceholders = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"

// InsertIgnoringDuplicates writes matches in one transaction, DBBatchSize rows
// per statement. Rows whose (game_id, user_num) already exists are skipped
// unchanged. It returns the number of rows actually inserted.
func (r *MatchRepository) InsertIgnoringDuplicates(ctx context.Context, matches []domain.Match) (int, error) {
	if len(matches) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError("begin match insert", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	inserted := 0

	for i := 0; i < len(matches); i += constants.DBBatchSize {
		end := i + constants.DBBatchSize
		if end > len(matches) {
			end = len(matches)
		}
		batch := matches[i:end]

		var query strings.Builder
		query.WriteString(matchInsertPrefix)
		args := make([]any, 0, len(batch)*9)
		for j, m := range batch {
			if j > 0 {
				query.WriteString(", ")
			}
			query.WriteString(matchRowPlaceholders)
			args = append(args,
				m.GameID,
				m.UserNum,
				m.Nickname,
				m.Character,
				m.KillerUserNum,
				m.KillerUserNum2,
				m.KillerUserNum3,
				m.StartedAt.UTC(),
				now,
			)
		}
		query.WriteString(" ON CONFLICT (game_id, user_num) DO NOTHING")

		res, err := tx.ExecContext(ctx, query.String(), args...)
		if err != nil {
			return 0, storageError(fmt.Sprintf("insert matches %d..%d", i, end), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageError("commit match insert", err)
	}

	r.logger.Debug().
		Int("received", len(matches)).
		Int("inserted", inserted).
		Msg("matches written")

	return inserted, nil
}

// GetByUserNum returns every stored match of a player, newest first.
func (r *MatchRepository) GetByUserNum(ctx context.Context, userNum int64) ([]domain.Match, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT game_id, user_num, nickname, character, killer_user_num, killer_user_num2, killer_user_num3, started_at, created_at
		FROM matches
		WHERE user_num = ?
		ORDER BY started_at DESC, game_id DESC`, userNum)
	if err != nil {
		return nil, storageError("get matches", err)
	}
	defer rows.Close()

	matches := []domain.Match{}
	for rows.Next() {
		var m domain.Match
		if err := rows.Scan(
			&m.GameID,
			&m.UserNum,
			&m.Nickname,
			&m.Character,
			&m.KillerUserNum,
			&m.KillerUserNum2,
			&m.KillerUserNum3,
			&m.StartedAt,
			&m.CreatedAt,
		); err != nil {
			return nil, storageError("scan match", err)
		}
		m.StartedAt = m.StartedAt.UTC()
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("get matches", err)
	}
	return matches, nil
}

func (r *MatchRepository) HasGame(ctx context.Context, userNum, gameID int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM matches WHERE user_num = ? AND game_id = ?`, userNum, gameID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storageError("check stored game", err)
	}
	return true, nil
}

func (r *MatchRepository) count(ctx context.Context, userNum int64) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches WHERE user_num = ?`, userNum).Scan(&count); err != nil {
		return 0, storageError("count matches", err)
	}
	return count, nil
}

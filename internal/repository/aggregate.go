package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"rival-tracker/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type AggregateRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewAggregateRepository(sqlDB *sql.DB, logger zerolog.Logger) *AggregateRepository {
	return &AggregateRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// Upsert replaces the stored aggregate of agg.UserNum as a whole.
func (r *AggregateRepository) Upsert(ctx context.Context, agg *domain.RivalAggregate) error {
	id := agg.ID
	if id == "" {
		var err error
		id, err = gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		agg.ID = id
	}

	rivals := agg.Rivals
	if rivals == nil {
		rivals = []domain.Rival{}
	}
	encoded, err := json.Marshal(rivals)
	if err != nil {
		return fmt.Errorf("failed to encode rivals: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rival_aggregates (user_num, id, rivals, game_count, computed_at, window_start, window_end)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_num) DO UPDATE SET
			id           = excluded.id,
			rivals       = excluded.rivals,
			game_count   = excluded.game_count,
			computed_at  = excluded.computed_at,
			window_start = excluded.window_start,
			window_end   = excluded.window_end`,
		agg.UserNum,
		id,
		string(encoded),
		agg.GameCount,
		agg.ComputedAt.UTC(),
		timePtrArg(agg.WindowStart),
		timePtrArg(agg.WindowEnd),
	)
	if err != nil {
		r.logger.Error().Err(err).Int64("user_num", agg.UserNum).Msg("failed to upsert rival aggregate")
		return storageError("upsert rival aggregate", err)
	}
	return nil
}

// Get returns nil, nil when no aggregate has been computed for the player.
func (r *AggregateRepository) Get(ctx context.Context, userNum int64) (*domain.RivalAggregate, error) {
	var (
		agg        domain.RivalAggregate
		encoded    string
		start, end sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_num, id, rivals, game_count, computed_at, window_start, window_end
		FROM rival_aggregates WHERE user_num = ?`, userNum).
		Scan(&agg.UserNum, &agg.ID, &encoded, &agg.GameCount, &agg.ComputedAt, &start, &end)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get rival aggregate", err)
	}

	if err := json.Unmarshal([]byte(encoded), &agg.Rivals); err != nil {
		return nil, storageError("decode rivals", err)
	}
	if agg.Rivals == nil {
		agg.Rivals = []domain.Rival{}
	}
	agg.ComputedAt = agg.ComputedAt.UTC()
	agg.WindowStart = nullTimePtr(start)
	agg.WindowEnd = nullTimePtr(end)
	return &agg, nil
}

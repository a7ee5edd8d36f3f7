package service

import (
	"context"
	"errors"
	"fmt"
	"rival-tracker/internal/api"
	"rival-tracker/internal/constants"
	"rival-tracker/internal/domain"
	"rival-tracker/internal/metrics"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type MatchPager interface {
	FetchMatchPage(ctx context.Context, userNum int64, cursor string) (*api.MatchPage, error)
}

type MatchWriter interface {
	InsertIgnoringDuplicates(ctx context.Context, matches []domain.Match) (int, error)
	HasGame(ctx context.Context, userNum, gameID int64) (bool, error)
}

// SyncResult describes one pass over a player's match history. Partial is
// set when the pass stopped early because pages kept failing.
type SyncResult struct {
	RunID    string
	Pages    int
	Fetched  int
	Inserted int
	Partial  bool
	Reason   string
}

type IngesterOption func(*Ingester)

// WithStopAtKnown stops a sync after the first page whose oldest game is
// already stored instead of walking the whole history.
func WithStopAtKnown(stop bool) IngesterOption {
	return func(in *Ingester) { in.stopAtKnown = stop }
}

func WithMaxPageFailures(n int) IngesterOption {
	return func(in *Ingester) {
		if n > 0 {
			in.maxFailures = n
		}
	}
}

type Ingester struct {
	pager       MatchPager
	matches     MatchWriter
	stopAtKnown bool
	maxFailures int
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func NewIngester(pager MatchPager, matches MatchWriter, m *metrics.Metrics, logger zerolog.Logger, opts ...IngesterOption) *Ingester {
	in := &Ingester{
		pager:       pager,
		matches:     matches,
		maxFailures: constants.SyncMaxPageFailures,
		metrics:     m,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Sync walks the player's match pages from newest to oldest and stores every
// record, skipping games already stored. A page is retried with the same
// cursor until it fails maxFailures times in a row; the sync then ends with a
// partial result instead of an error, as does a cursor the upstream already
// handed out. Storage faults and context
// cancellation are returned as errors.
func (in *Ingester) Sync(ctx context.Context, userNum int64) (SyncResult, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to generate sync id: %w", err)
	}
	res := SyncResult{RunID: runID}
	log := in.logger.With().Str("sync_id", runID).Int64("user_num", userNum).Logger()

	log.Info().Bool("stop_at_known", in.stopAtKnown).Msg("sync started")

	cursor := ""
	failures := 0
	seen := map[string]struct{}{}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page, err := in.pager.FetchMatchPage(ctx, userNum, cursor)
		if errors.Is(err, domain.ErrUpstreamNotFound) {
			log.Debug().Str("cursor", cursor).Msg("no games upstream, history ends")
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			failures++
			if failures < in.maxFailures {
				log.Warn().Err(err).Str("cursor", cursor).Int("failures", failures).Msg("page fetch failed, retrying same cursor")
				continue
			}

			res.Partial = true
			res.Reason = fmt.Sprintf("%s: match history incomplete, stopped after %d pages", domain.KindOf(err), res.Pages)
			in.metrics.PartialSync()
			log.Error().Err(err).Str("cursor", cursor).Int("pages", res.Pages).Msg("page fetch failed too many times, sync stopped")
			return res, nil
		}
		failures = 0

		known := false
		if in.stopAtKnown && len(page.Matches) > 0 {
			oldest := page.Matches[len(page.Matches)-1]
			known, err = in.matches.HasGame(ctx, userNum, oldest.GameID)
			if err != nil {
				return res, err
			}
		}

		inserted, err := in.matches.InsertIgnoringDuplicates(ctx, page.Matches)
		if err != nil {
			log.Error().Err(err).Str("cursor", cursor).Msg("failed to store page")
			return res, err
		}

		res.Pages++
		res.Fetched += len(page.Matches)
		res.Inserted += inserted
		in.metrics.SyncPage(inserted)

		log.Debug().
			Str("cursor", cursor).
			Str("next", page.Next).
			Int("fetched", len(page.Matches)).
			Int("inserted", inserted).
			Msg("page stored")

		if known {
			log.Debug().Msg("reached stored games, stopping early")
			break
		}
		seen[cursor] = struct{}{}
		cursor = page.Next
		if cursor == "" {
			break
		}
		if _, ok := seen[cursor]; ok {
			res.Partial = true
			res.Reason = fmt.Sprintf("%s: match history cursor repeated, stopped after %d pages", domain.KindMalformedUpstream, res.Pages)
			in.metrics.PartialSync()
			log.Error().Str("cursor", cursor).Int("pages", res.Pages).Msg("upstream repeated a cursor, sync stopped")
			return res, nil
		}
	}

	log.Info().
		Int("pages", res.Pages).
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Msg("sync completed")
	return res, nil
}

package service

import (
	"cmp"
	"rival-tracker/internal/domain"
	"slices"
	"time"
)

// CountRivals tallies how often each opponent appears in the killer slots
// of the given matches. Empty slots (zero) are skipped.
func CountRivals(matches []domain.Match) map[int64]int {
	counts := make(map[int64]int)
	for _, m := range matches {
		for _, killer := range m.Killers() {
			if killer == 0 {
				continue
			}
			counts[killer]++
		}
	}
	return counts
}

// RankRivals orders opponents by count, highest first. Equal counts are
// ordered by ascending user number so the ranking is reproducible.
func RankRivals(counts map[int64]int) []domain.Rival {
	ranked := make([]domain.Rival, 0, len(counts))
	for userNum, count := range counts {
		ranked = append(ranked, domain.Rival{UserNum: userNum, Count: count})
	}
	slices.SortFunc(ranked, func(a, b domain.Rival) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.UserNum, b.UserNum)
	})
	return ranked
}

func BuildAggregate(userNum int64, matches []domain.Match, now time.Time) domain.RivalAggregate {
	agg := domain.RivalAggregate{
		UserNum:    userNum,
		Rivals:     RankRivals(CountRivals(matches)),
		GameCount:  len(matches),
		ComputedAt: now.UTC(),
	}

	for i := range matches {
		started := matches[i].StartedAt.UTC()
		if agg.WindowStart == nil || started.Before(*agg.WindowStart) {
			agg.WindowStart = &started
		}
		if agg.WindowEnd == nil || started.After(*agg.WindowEnd) {
			agg.WindowEnd = &started
		}
	}
	return agg
}

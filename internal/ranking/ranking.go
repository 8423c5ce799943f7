package ranking

import (
	"sort"
	"sync"
	"time"
)

// ScoreResult is a raw per-symbol score from an external engine.
type ScoreResult struct {
	Symbol    string    `json:"symbol"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// RankedSymbol is the derived, ephemeral ranking row. It is recomputed
// on every ranking pass and never persisted.
type RankedSymbol struct {
	Symbol       string  `json:"symbol"`
	Score        float64 `json:"score"`
	DecayedScore float64 `json:"decayedScore"`
	Percentile   float64 `json:"percentile"`
	Penalty      float64 `json:"penalty"`
	FinalRank    float64 `json:"finalRank"`
}

// ScoreTTL is how long a score result stays eligible for ranking.
const ScoreTTL = 24 * time.Hour

// Recently-traded penalty windows and weights. Fixed product-tuned
// values; tests pin them.
const (
	penaltyWindowShort  = 3 * 24 * time.Hour
	penaltyWindowMedium = 7 * 24 * time.Hour
	penaltyWindowLong   = 14 * 24 * time.Hour
	penaltyWindowMax    = 30 * 24 * time.Hour

	penaltyShort  = 0.8
	penaltyMedium = 0.5
	penaltyLong   = 0.25
	penaltyMax    = 0.10
)

// Recommendation thresholds.
const (
	RecommendationFloor          = 60.0
	RecommendationPenaltyCeiling = 0.5
)

// Engine ranks raw score results with recency weighting and a
// recently-traded penalty. It is stateless except for the in-memory
// last-traded map.
type Engine struct {
	mu         sync.RWMutex
	lastTraded map[string]time.Time
	now        func() time.Time
}

// NewEngine creates a ranking engine.
func NewEngine() *Engine {
	return &Engine{
		lastTraded: make(map[string]time.Time),
		now:        time.Now,
	}
}

// MarkTraded records that a symbol was traded at the given time, so
// later ranking passes penalize immediate re-entry.
func (e *Engine) MarkTraded(symbol string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTraded[symbol] = at
}

// IsExpired reports whether a score result is too old to rank.
func (e *Engine) IsExpired(result ScoreResult) bool {
	return e.now().Sub(result.Timestamp) > ScoreTTL
}

// DecayedScore returns the recency-adjusted score for ranking.
//
// Contract note: this is currently a pass-through of the raw score.
// The exponential FreshnessWeight utility exists separately and is
// deliberately not applied here, so ranking output stays identical to
// the behavior users already see.
func (e *Engine) DecayedScore(result ScoreResult) float64 {
	return result.Score
}

// RecentlyTradedPenalty returns the re-entry penalty for a symbol:
// 0.8 when traded under 3 days ago, stepping down to 0 past 30 days.
// Symbols never traded get 0.
func (e *Engine) RecentlyTradedPenalty(symbol string) float64 {
	e.mu.RLock()
	traded, ok := e.lastTraded[symbol]
	e.mu.RUnlock()
	if !ok {
		return 0
	}

	since := e.now().Sub(traded)
	switch {
	case since < penaltyWindowShort:
		return penaltyShort
	case since < penaltyWindowMedium:
		return penaltyMedium
	case since < penaltyWindowLong:
		return penaltyLong
	case since < penaltyWindowMax:
		return penaltyMax
	default:
		return 0
	}
}

// Rank filters out expired results, assigns a percentile by decayed
// score (top item 100, bottom approaching 0), applies the
// recently-traded penalty and re-sorts by the final rank.
// Both sorts are stable, so ties keep their input order.
func (e *Engine) Rank(results []ScoreResult) []RankedSymbol {
	fresh := make([]ScoreResult, 0, len(results))
	for _, r := range results {
		if !e.IsExpired(r) {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	ranked := make([]RankedSymbol, len(fresh))
	for i, r := range fresh {
		ranked[i] = RankedSymbol{
			Symbol:       r.Symbol,
			Score:        r.Score,
			DecayedScore: e.DecayedScore(r),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DecayedScore > ranked[j].DecayedScore
	})

	n := float64(len(ranked))
	for i := range ranked {
		ranked[i].Percentile = ((n - float64(i)) / n) * 100
		ranked[i].Penalty = e.RecentlyTradedPenalty(ranked[i].Symbol)
		ranked[i].FinalRank = ranked[i].Percentile * (1 - ranked[i].Penalty)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalRank > ranked[j].FinalRank
	})

	return ranked
}

// IsRecommended reports whether a ranked symbol clears the
// recommendation floor and is not freshly traded.
func IsRecommended(r RankedSymbol) bool {
	return r.FinalRank >= RecommendationFloor && r.Penalty < RecommendationPenaltyCeiling
}

// TopPicks returns the n best-ranked symbols.
func (e *Engine) TopPicks(results []ScoreResult, n int) []RankedSymbol {
	ranked := e.Rank(results)
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// Recommendations returns ranked symbols at or above minRank.
func (e *Engine) Recommendations(results []ScoreResult, minRank float64) []RankedSymbol {
	var out []RankedSymbol
	for _, r := range e.Rank(results) {
		if r.FinalRank >= minRank {
			out = append(out, r)
		}
	}
	return out
}

// DiversityScore measures sector concentration of a symbol set with a
// Herfindahl-Hirschman index, normalized so 100 is maximally diverse
// and 0 is fully concentrated. Symbols missing from sectorMap count
// as their own "unknown" sector.
func DiversityScore(symbols []string, sectorMap map[string]string) float64 {
	if len(symbols) == 0 {
		return 0
	}

	counts := make(map[string]int)
	for _, s := range symbols {
		sector, ok := sectorMap[s]
		if !ok {
			sector = "unknown"
		}
		counts[sector]++
	}

	total := float64(len(symbols))
	hhi := 0.0
	for _, c := range counts {
		share := float64(c) / total
		hhi += share * share
	}

	sectors := float64(len(counts))
	if sectors == 1 {
		return 0
	}
	minHHI := 1 / sectors
	maxHHI := 1.0
	return ((maxHHI - hhi) / (maxHHI - minHHI)) * 100
}

package market

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

// YesPercentage is the YES share of the stake, rounded down to a whole
// percent. An empty market reads 50.
func YesPercentage(rec domain.MarketRecord) int {
	yes, no := math.Max(rec.PlayerACount, 0), math.Max(rec.PlayerBCount, 0)
	if yes+no == 0 {
		return 50
	}
	return int(math.Floor(yes / (yes + no) * 100))
}

// Probability is the YES share with two decimals, 50 when empty.
func Probability(rec domain.MarketRecord) float64 {
	yes, no := math.Max(rec.PlayerACount, 0), math.Max(rec.PlayerBCount, 0)
	if yes+no == 0 {
		return 50
	}
	return round2(yes / (yes + no) * 100)
}

// ProbabilitySeries replays the bets in timestamp order and returns the
// running YES share after each one. Entries without a timestamp keep their
// list position. A market without bets yields a single point.
func ProbabilitySeries(rec domain.MarketRecord) []float64 {
	type point struct {
		at    int64
		isYes bool
		amt   float64
	}
	points := make([]point, 0, len(rec.PlayerA)+len(rec.PlayerB))
	for i, b := range rec.PlayerA {
		points = append(points, point{at: betTime(b, int64(i+1)), isYes: true, amt: b.Amount})
	}
	for i, b := range rec.PlayerB {
		points = append(points, point{at: betTime(b, int64(len(rec.PlayerA)+i+1)), amt: b.Amount})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].at < points[j].at })

	base := Probability(rec)
	var yes, no float64
	series := make([]float64, 0, len(points))
	for _, p := range points {
		if p.amt == 0 {
			continue
		}
		if p.isYes {
			yes = math.Max(yes+p.amt, 0)
		} else {
			no = math.Max(no+p.amt, 0)
		}
		if total := yes + no; total > 0 {
			series = append(series, round2(yes/total*100))
		} else {
			series = append(series, base)
		}
	}
	if len(series) == 0 {
		return []float64{base}
	}
	return series
}

// Identifier is the contract index used for a market shown at position
// index: onChainId, else the legacy marketId, else index+1.
func Identifier(rec domain.MarketRecord, index int) int64 {
	if rec.OnChainID != nil {
		return *rec.OnChainID
	}
	if rec.MarketID != nil {
		return *rec.MarketID
	}
	return int64(index + 1)
}

func betTime(b domain.BetEntry, fallback int64) int64 {
	if b.Timestamp == "" {
		return fallback
	}
	t, err := time.Parse(DateLayout, b.Timestamp)
	if err != nil {
		return fallback
	}
	return t.UnixMilli()
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

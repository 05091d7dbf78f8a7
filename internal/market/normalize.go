// Package market turns loosely shaped backend market documents into
// canonical domain.MarketRecord values and keeps the shared market list.
package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

// DateLayout is the canonical representation of every normalized date.
const DateLayout = "2006-01-02T15:04:05.000Z"

// Raw is an undecoded backend market document.
type Raw map[string]any

// dateLayouts are tried in order for string dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// DecodeRaw decodes one document, keeping numbers as json.Number.
func DecodeRaw(data []byte) (Raw, error) {
	var raw Raw
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("market: decode document: %w", err)
	}
	return raw, nil
}

// DecodeRawList decodes an array of documents.
func DecodeRawList(data []byte) ([]Raw, error) {
	var list []Raw
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("market: decode documents: %w", err)
	}
	return list, nil
}

// Normalize converts raw into a MarketRecord. The boolean reports whether
// the document carries an identity; records without one cannot be merged.
func Normalize(raw Raw) (domain.MarketRecord, bool) {
	playerA := betEntries(raw["playerA"])
	playerB := betEntries(raw["playerB"])

	aCount := counter(raw["playerACount"], sumAmounts(playerA))
	bCount := counter(raw["playerBCount"], sumAmounts(playerB))

	rec := domain.MarketRecord{
		ID:        identity(raw),
		OnChainID: onChainID(raw["onChainId"]),
		MarketID:  onChainID(raw["marketId"]),

		Question:    str(raw["question"]),
		FeedName:    str(raw["feedName"]),
		Description: str(raw["description"]),
		ImageURL:    str(raw["imageUrl"]),
		MarketField: int(number(raw["marketField"], 0)),
		APIType:     int(number(raw["apiType"], 0)),
		Task:        str(raw["task"]),
		Creator:     str(raw["creator"]),
		TokenA:      str(raw["tokenA"]),
		TokenB:      str(raw["tokenB"]),
		Market:      str(raw["market"]),
		Value:       number(raw["value"], 0),
		Range:       number(raw["range"], 0),
		Date:        dateString(raw["date"]),

		TradingAmountA:  number(raw["tradingAmountA"], 0),
		TradingAmountB:  number(raw["tradingAmountB"], 0),
		TokenAPrice:     number(raw["tokenAPrice"], 0),
		TokenBPrice:     number(raw["tokenBPrice"], 0),
		InitAmount:      number(raw["initAmount"], 0),
		PlayerACount:    aCount,
		PlayerBCount:    bCount,
		TotalInvestment: counter(raw["totalInvestment"], aCount+bCount),
		PlayerA:         playerA,
		PlayerB:         playerB,
		Comments:        list(raw["comments"]),

		MarketStatus:     strings.TrimSpace(str(raw["marketStatus"])),
		ResolvedAt:       dateString(raw["resolvedAt"]),
		ResolutionSource: str(raw["resolutionSource"]),

		CreatedAt: dateString(raw["createdAt"]),
		UpdatedAt: dateString(raw["updatedAt"]),
		Version:   int(number(raw["__v"], 0)),
	}
	if rec.MarketStatus == "" {
		rec.MarketStatus = domain.MarketStatusInit
	}
	if o, ok := domain.ParseOutcome(strings.ToUpper(str(raw["outcome"]))); ok {
		rec.Outcome = o
	}
	if rs, ok := domain.ParseResolutionStatus(strings.ToUpper(str(raw["resolutionStatus"]))); ok {
		rec.ResolutionStatus = rs
	}
	return rec, rec.ID != ""
}

// NormalizeList normalizes every document, keeping order.
func NormalizeList(raws []Raw) []domain.MarketRecord {
	out := make([]domain.MarketRecord, 0, len(raws))
	for _, raw := range raws {
		rec, _ := Normalize(raw)
		out = append(out, rec)
	}
	return out
}

// identity reads _id as a string or an extended-JSON ObjectId, falling
// back to id.
func identity(raw Raw) string {
	switch v := raw["_id"].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case map[string]any:
		if oid, ok := v["$oid"].(string); ok && oid != "" {
			return oid
		}
	}
	if id, ok := raw["id"].(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func list(v any) []any {
	l, ok := v.([]any)
	if !ok {
		return []any{}
	}
	return l
}

// toFloat reports the finite numeric value of v.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func number(v any, fallback float64) float64 {
	if f, ok := toFloat(v); ok {
		return f
	}
	return fallback
}

// counter is number for aggregate stake fields: a negative value is
// malformed and falls back too. The result is never negative.
func counter(v any, fallback float64) float64 {
	f, ok := toFloat(v)
	if !ok || f < 0 {
		f = fallback
	}
	return math.Max(f, 0)
}

func onChainID(v any) *int64 {
	f, ok := toFloat(v)
	if !ok || f < 0 || f != math.Trunc(f) || f >= 1<<63 {
		return nil
	}
	id := int64(f)
	return &id
}

func betEntries(v any) []domain.BetEntry {
	items, ok := v.([]any)
	if !ok {
		return []domain.BetEntry{}
	}
	out := make([]domain.BetEntry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, domain.BetEntry{
			Player:    str(m["player"]),
			Amount:    number(m["amount"], 0),
			Timestamp: dateString(m["timestamp"]),
		})
	}
	return out
}

func sumAmounts(entries []domain.BetEntry) float64 {
	var sum float64
	for _, e := range entries {
		sum += e.Amount
	}
	return sum
}

// dateString renders v in DateLayout. Numbers and numeric strings are
// epoch milliseconds. Unparseable input yields "".
func dateString(v any) string {
	t, ok := parseDate(v)
	if !ok {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

func parseDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil || x.IsZero() {
			return time.Time{}, false
		}
		return *x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if ms, ok := toFloat(s); ok {
			return epochMillis(ms)
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	if ms, ok := toFloat(v); ok {
		return epochMillis(ms)
	}
	return time.Time{}, false
}

// maxEpochMillis bounds epoch timestamps to ±100,000,000 days, the range
// of an ECMAScript Date.
const maxEpochMillis = 8.64e15

func epochMillis(ms float64) (time.Time, bool) {
	if math.Abs(ms) > maxEpochMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

package revenue

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Field names of the persisted cache document.
const (
	FieldDailyRevenue       = "daily_revenue"
	FieldDailyTransactions  = "daily_transactions"
	FieldWeeklyRevenue      = "weekly_revenue"
	FieldWeeklyTransactions = "weekly_transactions"
	FieldLastUpdate         = "last_update"
)

// Total is the revenue and transaction count of one collaborator over a period.
type Total struct {
	Value float64 `json:"total_value"`
	Count int64   `json:"total_transactions"`
}

// Totals maps a collaborator id to its Total. Collaborators without
// transactions are absent.
type Totals map[string]Total

// Add accumulates one transaction.
func (t Totals) Add(collaboratorID string, value float64) {
	cur := t[collaboratorID]
	cur.Value += value
	cur.Count++
	t[collaboratorID] = cur
}

// Figures are the four numbers served to clients.
type Figures struct {
	DailyRevenue       float64 `json:"daily_revenue"`
	DailyTransactions  int64   `json:"daily_transactions"`
	WeeklyRevenue      float64 `json:"weekly_revenue"`
	WeeklyTransactions int64   `json:"weekly_transactions"`
}

// Tuple returns (dailyRevenue, weeklyRevenue, dailyTransactions, weeklyTransactions).
func (f Figures) Tuple() []any {
	return []any{f.DailyRevenue, f.WeeklyRevenue, f.DailyTransactions, f.WeeklyTransactions}
}

func (f Figures) plus(o Figures) Figures {
	return Figures{
		DailyRevenue:       f.DailyRevenue + o.DailyRevenue,
		DailyTransactions:  f.DailyTransactions + o.DailyTransactions,
		WeeklyRevenue:      f.WeeklyRevenue + o.WeeklyRevenue,
		WeeklyTransactions: f.WeeklyTransactions + o.WeeklyTransactions,
	}
}

// Summary is the cached record of one collaborator. It is always replaced as a whole.
type Summary struct {
	Figures
	LastUpdate time.Time `json:"last_update"`
}

// Stale reports whether the summary was last updated on another calendar day
// than now, in now's location. A never-updated summary is stale.
func (s Summary) Stale(now time.Time) bool {
	if s.LastUpdate.IsZero() {
		return true
	}
	return DateKey(s.LastUpdate.In(now.Location())) != DateKey(now)
}

// Fields encodes the summary as stored in the cache document.
func (s Summary) Fields() map[string]any {
	return map[string]any{
		FieldDailyRevenue:       s.DailyRevenue,
		FieldDailyTransactions:  s.DailyTransactions,
		FieldWeeklyRevenue:      s.WeeklyRevenue,
		FieldWeeklyTransactions: s.WeeklyTransactions,
		FieldLastUpdate:         s.LastUpdate,
	}
}

// SummaryFromFields decodes a stored summary. Numbers may be any numeric type;
// last_update may be a time value or an RFC 3339 string.
func SummaryFromFields(m map[string]any) (Summary, error) {
	var s Summary
	var ok bool
	if s.DailyRevenue, ok = optionalFloat(m[FieldDailyRevenue]); !ok {
		return Summary{}, fmt.Errorf("field %s: not a number", FieldDailyRevenue)
	}
	if s.WeeklyRevenue, ok = optionalFloat(m[FieldWeeklyRevenue]); !ok {
		return Summary{}, fmt.Errorf("field %s: not a number", FieldWeeklyRevenue)
	}
	if s.DailyTransactions, ok = optionalInt(m[FieldDailyTransactions]); !ok {
		return Summary{}, fmt.Errorf("field %s: not a number", FieldDailyTransactions)
	}
	if s.WeeklyTransactions, ok = optionalInt(m[FieldWeeklyTransactions]); !ok {
		return Summary{}, fmt.Errorf("field %s: not a number", FieldWeeklyTransactions)
	}
	ts, err := toTime(m[FieldLastUpdate])
	if err != nil {
		return Summary{}, fmt.Errorf("field %s: %w", FieldLastUpdate, err)
	}
	s.LastUpdate = ts
	return s, nil
}

// TenantCache maps collaborator ids to their summaries.
type TenantCache map[string]Summary

// Clone returns an independent copy.
func (c TenantCache) Clone() TenantCache {
	out := make(TenantCache, len(c))
	for id, s := range c {
		out[id] = s
	}
	return out
}

// Aggregate sums the figures of every collaborator.
func (c TenantCache) Aggregate() Figures {
	var sum Figures
	for _, s := range c {
		sum = sum.plus(s.Figures)
	}
	return sum
}

// FillMissing adds a zero summary stamped now for every id absent from the
// cache and returns how many were added.
func (c TenantCache) FillMissing(ids []string, now time.Time) int {
	added := 0
	for _, id := range ids {
		if _, ok := c[id]; ok {
			continue
		}
		c[id] = Summary{LastUpdate: now}
		added++
	}
	return added
}

// Document encodes the whole cache as one document keyed by collaborator id.
func (c TenantCache) Document() map[string]any {
	doc := make(map[string]any, len(c))
	for id, s := range c {
		doc[id] = s.Fields()
	}
	return doc
}

// TenantCacheFromDocument decodes a persisted cache document. Entries that
// cannot be decoded are reported in skipped and left out.
func TenantCacheFromDocument(doc map[string]any) (cache TenantCache, skipped []string) {
	cache = make(TenantCache, len(doc))
	for id, raw := range doc {
		fields, ok := raw.(map[string]any)
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		s, err := SummaryFromFields(fields)
		if err != nil {
			skipped = append(skipped, id)
			continue
		}
		cache[id] = s
	}
	return cache, skipped
}

// ToFloat converts a stored numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func optionalFloat(v any) (float64, bool) {
	if v == nil {
		return 0, true
	}
	return ToFloat(v)
}

func optionalInt(v any) (int64, bool) {
	if v == nil {
		return 0, true
	}
	if n, ok := v.(int64); ok {
		return n, true
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, false
	}
	return int64(math.Round(f)), true
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, nil
		}
		return *t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}

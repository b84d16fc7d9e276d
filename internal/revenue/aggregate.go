package revenue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bassista/go_revenue/internal/logger"
	"github.com/bassista/go_revenue/internal/repository"
)

// Collections and fields of a tenant database.
const (
	CollaboratorCollection = "colaborador"
	TransactionRoot        = "transacoes"
	CacheDocumentPath      = "cache/revenue_cache"

	FieldCollaboratorID = "colaborador_id"
	FieldTotal          = "total"
	FieldDate           = "data"

	DateLayout  = "02-01-2006"
	monthLayout = "2006-01"
)

// DateKey formats a day the way transactions store it (DD-MM-YYYY).
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// MonthKey identifies the transaction partition of t (YYYY-MM).
func MonthKey(t time.Time) string {
	return t.Format(monthLayout)
}

// TransactionCollection is the year/month partition holding the transactions of day.
func TransactionCollection(day time.Time) string {
	return fmt.Sprintf("%s/%d/%02d", TransactionRoot, day.Year(), int(day.Month()))
}

// WeekStart returns midnight of the ISO Monday of t's week, in t's location.
func WeekStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// WeekDays returns the seven days, Monday to Sunday, of t's week.
func WeekDays(t time.Time) []time.Time {
	start := WeekStart(t)
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = start.AddDate(0, 0, i)
	}
	return days
}

// ComputeDailyTotals groups today's transactions by collaborator.
func ComputeDailyTotals(ctx context.Context, db repository.Streamer, now time.Time) (Totals, error) {
	totals := Totals{}
	if err := accumulateDay(ctx, db, now, totals); err != nil {
		return nil, err
	}
	return totals, nil
}

// ComputeWeeklyTotals groups the transactions of the current Monday–Sunday
// week by collaborator. Each day is read from its own month partition.
func ComputeWeeklyTotals(ctx context.Context, db repository.Streamer, now time.Time) (Totals, error) {
	totals := Totals{}
	for _, day := range WeekDays(now) {
		if err := accumulateDay(ctx, db, day, totals); err != nil {
			return nil, err
		}
	}
	return totals, nil
}

// ListCollaborators returns the ids currently in the collaborator collection.
func ListCollaborators(ctx context.Context, db repository.Streamer) ([]string, error) {
	docs, err := db.Stream(ctx, CollaboratorCollection, nil)
	if err != nil {
		return nil, upstream(fmt.Errorf("list collaborators: %w", err))
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

func accumulateDay(ctx context.Context, db repository.Streamer, day time.Time, totals Totals) error {
	collection := TransactionCollection(day)
	dateKey := DateKey(day)
	docs, err := db.Stream(ctx, collection, &repository.Filter{Field: FieldDate, Value: dateKey})
	if err != nil {
		return upstream(fmt.Errorf("transactions of %s: %w", dateKey, err))
	}

	for _, doc := range docs {
		collaboratorID, ok := doc.Data[FieldCollaboratorID].(string)
		if !ok || collaboratorID == "" {
			logger.WithComponent("aggregate").Warnf("transaction %s/%s has no collaborator id, skipped", collection, doc.ID)
			continue
		}
		total, ok := ToFloat(doc.Data[FieldTotal])
		if !ok {
			logger.WithComponent("aggregate").Warnf("transaction %s/%s has a non numeric total, skipped", collection, doc.ID)
			continue
		}
		totals.Add(collaboratorID, total)
	}
	return nil
}

// upstream tags err as an upstream read failure unless a backend already did.
func upstream(err error) error {
	if errors.Is(err, repository.ErrUpstreamRead) {
		return err
	}
	return fmt.Errorf("%w: %w", repository.ErrUpstreamRead, err)
}

// Merge rebuilds the summary of every id in ids from the daily and weekly
// totals (zero when absent), stamped now. Entries not in ids are kept as they
// are. The input cache is not modified.
func Merge(cache TenantCache, daily, weekly Totals, ids []string, now time.Time) TenantCache {
	out := cache.Clone()
	for _, id := range ids {
		d := daily[id]
		w := weekly[id]
		out[id] = Summary{
			Figures: Figures{
				DailyRevenue:       d.Value,
				DailyTransactions:  d.Count,
				WeeklyRevenue:      w.Value,
				WeeklyTransactions: w.Count,
			},
			LastUpdate: now,
		}
	}
	return out
}

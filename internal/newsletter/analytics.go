package newsletter

import (
	"context"
	"time"
)

// AnalyticsWindowDays is the rolling window for the admin rollup.
const AnalyticsWindowDays = 30

// DayBucket is one day of the per-day breakdown, keyed by UTC date.
type DayBucket struct {
	Date      string `json:"date"`
	Delivered int    `json:"delivered"`
	Opened    int    `json:"opened"`
	Clicked   int    `json:"clicked"`
}

// AnalyticsOverview is the 30-day rollup. Rates are zero when delivered is
// zero. This is a pure read-time aggregation with no cached rollups.
type AnalyticsOverview struct {
	WindowDays int         `json:"window_days"`
	Delivered  int         `json:"delivered"`
	Opened     int         `json:"opened"`
	Clicked    int         `json:"clicked"`
	OpenRate   float64     `json:"open_rate"`
	ClickRate  float64     `json:"click_rate"`
	Daily      []DayBucket `json:"daily"`
}

// AnalyticsOverview aggregates the trailing 30 days of the event log into
// totals, rates and an ascending per-UTC-day breakdown.
func (s *Store) AnalyticsOverview(ctx context.Context, now time.Time) (*AnalyticsOverview, error) {
	since := now.UTC().AddDate(0, 0, -AnalyticsWindowDays)

	out := &AnalyticsOverview{WindowDays: AnalyticsWindowDays, Daily: []DayBucket{}}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN event_type = 'delivered' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = 'opened' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = 'clicked' THEN 1 ELSE 0 END), 0)
		FROM newsletter_events WHERE occurred_at >= $1`, since).Scan(
		&out.Delivered, &out.Opened, &out.Clicked)
	if err != nil {
		return nil, err
	}

	if out.Delivered > 0 {
		out.OpenRate = float64(out.Opened) / float64(out.Delivered)
		out.ClickRate = float64(out.Clicked) / float64(out.Delivered)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(occurred_at AT TIME ZONE 'UTC') AS day,
			SUM(CASE WHEN event_type = 'delivered' THEN 1 ELSE 0 END),
			SUM(CASE WHEN event_type = 'opened' THEN 1 ELSE 0 END),
			SUM(CASE WHEN event_type = 'clicked' THEN 1 ELSE 0 END)
		FROM newsletter_events
		WHERE occurred_at >= $1
		GROUP BY DATE(occurred_at AT TIME ZONE 'UTC')
		ORDER BY day ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var day time.Time
		b := DayBucket{}
		if err := rows.Scan(&day, &b.Delivered, &b.Opened, &b.Clicked); err != nil {
			return nil, err
		}
		b.Date = day.Format("2006-01-02")
		out.Daily = append(out.Daily, b)
	}
	return out, rows.Err()
}

package usage

import (
	"sort"
	"time"
)

// Aggregate groups events into per-day totals for one subject.
// Days are computed in loc. This is a PURE function.
func Aggregate(events []Event, loc *time.Location) []DailyTotal {
	if loc == nil {
		loc = time.UTC
	}

	type acc struct {
		total        DailyTotal
		totalLatency int64
	}
	byDay := make(map[string]*acc)

	for _, e := range events {
		day := e.CreatedAt.In(loc).Format("2006-01-02")
		a, ok := byDay[day]
		if !ok {
			a = &acc{total: DailyTotal{Day: day, SubjectName: e.SubjectName}}
			byDay[day] = a
		}
		a.total.RequestCount++
		a.total.TokensUsed += e.TokensUsed
		a.totalLatency += e.LatencyMs
		if e.Denied() {
			a.total.ErrorCount++
		}
	}

	out := make([]DailyTotal, 0, len(byDay))
	for _, a := range byDay {
		if a.total.RequestCount > 0 {
			a.total.AvgLatencyMs = a.totalLatency / a.total.RequestCount
		}
		out = append(out, a.total)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	return out
}

// MergeTotals folds totals for the same day together. Inputs for
// different days pass through unchanged. This is a PURE function.
func MergeTotals(totals []DailyTotal) []DailyTotal {
	byDay := make(map[string]DailyTotal)
	for _, t := range totals {
		cur, ok := byDay[t.Day]
		if !ok {
			byDay[t.Day] = t
			continue
		}
		merged := cur
		merged.TokensUsed += t.TokensUsed
		merged.ErrorCount += t.ErrorCount
		combined := cur.RequestCount + t.RequestCount
		if combined > 0 {
			merged.AvgLatencyMs = (cur.AvgLatencyMs*cur.RequestCount + t.AvgLatencyMs*t.RequestCount) / combined
		}
		merged.RequestCount = combined
		byDay[t.Day] = merged
	}

	out := make([]DailyTotal, 0, len(byDay))
	for _, t := range byDay {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	return out
}

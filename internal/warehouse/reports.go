package warehouse

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// OrderStateCounters tallies how many tracked orders sit in each lifecycle
// state. The sum always equals the number of registered orders minus those
// explicitly cleared.
type OrderStateCounters struct {
	Waiting          int
	PickingQueued    int
	ActivelyPicking  int
	PartiallyShipped int
	Completed        int
}

// OrderHistogramBucket counts orders whose completion duration fell within
// [BucketStart, BucketEnd).
type OrderHistogramBucket struct {
	BucketStart time.Duration
	BucketEnd   time.Duration
	Count       int
}

// OrderReport is the order-state half of a warehouse report.
type OrderReport struct {
	States              OrderStateCounters
	CompletionHistogram []OrderHistogramBucket
}

// LoaderStats tallies one loader's completions by task kind and its
// accumulated idle time.
type LoaderStats struct {
	LoaderID       int
	TasksCompleted map[string]int
	RestTime       time.Duration
}

// LoaderReport is the per-loader half of a warehouse report.
type LoaderReport struct {
	Stats     []LoaderStats
	RestRatio float64
}

// Reports bundles both halves of a warehouse statistics snapshot.
type Reports struct {
	Orders  OrderReport
	Loaders LoaderReport
}

// BuildReports takes a consistent snapshot of every statistic gathered so
// far. Safe to call at any time, including while the warehouse is still
// running.
func (w *Warehouse) BuildReports() Reports {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	var reports Reports
	reports.Orders.States = w.orderStates
	reports.Orders.CompletionHistogram = append([]OrderHistogramBucket(nil), w.histogram...)

	ids := make([]int, 0, len(w.loaderStats))
	for id := range w.loaderStats {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var totalRest time.Duration
	for _, id := range ids {
		stats := w.loaderStats[id]
		reports.Loaders.Stats = append(reports.Loaders.Stats, *stats)
		totalRest += stats.RestTime
	}

	if len(w.loaderStats) > 0 && w.config.SimulationSeconds > 0 {
		totalBudget := float64(len(w.loaderStats)) * float64(w.config.SimulationSeconds) * float64(time.Second)
		reports.Loaders.RestRatio = float64(totalRest) / totalBudget
	}

	return reports
}

// Print writes the order-state counters, completion histogram, and
// per-loader statistics to w in the fixed plain-text layout the CLI
// prints after a simulation run.
func (r Reports) Print(w io.Writer) {
	fmt.Fprintln(w, "=== order state report ===")
	fmt.Fprintf(w, "waiting: %d\n", r.Orders.States.Waiting)
	fmt.Fprintf(w, "picking queued: %d\n", r.Orders.States.PickingQueued)
	fmt.Fprintf(w, "actively picking: %d\n", r.Orders.States.ActivelyPicking)
	fmt.Fprintf(w, "partially shipped: %d\n", r.Orders.States.PartiallyShipped)
	fmt.Fprintf(w, "completed: %d\n", r.Orders.States.Completed)

	fmt.Fprintln(w, "\ncompletion duration histogram:")
	for _, bucket := range r.Orders.CompletionHistogram {
		fmt.Fprintf(w, "[%dms - %dms]: %d\n",
			bucket.BucketStart.Milliseconds(), bucket.BucketEnd.Milliseconds(), bucket.Count)
	}

	fmt.Fprintln(w, "\n=== loader performance report ===")
	for _, loader := range r.Loaders.Stats {
		fmt.Fprintf(w, "loader #%d rest time: %dms\n", loader.LoaderID, loader.RestTime.Milliseconds())
		kinds := make([]string, 0, len(loader.TasksCompleted))
		for k := range loader.TasksCompleted {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %s: %d\n", k, loader.TasksCompleted[k])
		}
	}
	fmt.Fprintf(w, "average rest ratio: %.4f\n", r.Loaders.RestRatio)
}

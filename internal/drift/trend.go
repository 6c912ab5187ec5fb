package drift

import (
	"time"

	"github.com/archscope/archscope/internal/models"
	"github.com/archscope/archscope/internal/topology"
)

// TrendEntry is the stored score/severity of one past drift run.
type TrendEntry struct {
	PreviousRef string          `json:"previous_ref"`
	CurrentRef  string          `json:"current_ref"`
	Score       int             `json:"score"`
	Severity    models.Severity `json:"severity"`
	ComparedAt  time.Time       `json:"compared_at"`
}

// MetricGrowth tracks a topology metric between the oldest and newest
// historical snapshot.
type MetricGrowth struct {
	Metric string `json:"metric"`
	First  int    `json:"first"`
	Last   int    `json:"last"`
	Change int    `json:"change"`
}

// TrendReport is a derived view over the report history. It is regenerated
// on demand and can always be rebuilt; it is not authoritative state.
type TrendReport struct {
	From          time.Time      `json:"from,omitempty"`
	To            time.Time      `json:"to,omitempty"`
	TotalRuns     int            `json:"total_runs"`
	ChangedRuns   int            `json:"changed_runs"`
	StabilityRate float64        `json:"stability_rate"`
	Entries       []TrendEntry   `json:"entries"`
	Growth        []MetricGrowth `json:"growth,omitempty"`
}

// Trend summarises all recorded drift runs: per-run scores, the share of
// runs with no change, and the growth of the topology between the first and
// last historical snapshot.
func (e *Engine) Trend() (TrendReport, error) {
	reports, err := e.history.Reports()
	if err != nil {
		return TrendReport{}, err
	}

	trend := TrendReport{Entries: make([]TrendEntry, 0, len(reports))}
	for _, report := range reports {
		trend.Entries = append(trend.Entries, TrendEntry{
			PreviousRef: report.PreviousRef,
			CurrentRef:  report.CurrentRef,
			Score:       report.Score,
			Severity:    report.Severity,
			ComparedAt:  report.ComparedAt,
		})
		if report.Score > 0 {
			trend.ChangedRuns++
		}
	}
	trend.TotalRuns = len(reports)
	if trend.TotalRuns > 0 {
		trend.From = reports[0].ComparedAt
		trend.To = reports[len(reports)-1].ComparedAt
		trend.StabilityRate = float64(trend.TotalRuns-trend.ChangedRuns) / float64(trend.TotalRuns) * 100
	}

	growth, err := e.metricGrowth()
	if err != nil {
		return TrendReport{}, err
	}
	trend.Growth = growth
	return trend, nil
}

func (e *Engine) metricGrowth() ([]MetricGrowth, error) {
	keys, err := e.history.SnapshotKeys()
	if err != nil || len(keys) < 2 {
		return nil, err
	}
	first, err := e.history.LoadSnapshot(keys[0])
	if err != nil {
		return nil, err
	}
	last, err := e.history.LoadSnapshot(keys[len(keys)-1])
	if err != nil {
		return nil, err
	}

	growth := []MetricGrowth{
		{Metric: "services", First: len(first.Services), Last: len(last.Services)},
		{Metric: "dependencies", First: len(first.Dependencies), Last: len(last.Dependencies)},
		{Metric: "endpoints", First: countEndpoints(first.Endpoints), Last: countEndpoints(last.Endpoints)},
	}
	for i := range growth {
		growth[i].Change = growth[i].Last - growth[i].First
	}
	return growth, nil
}

func countEndpoints(endpoints map[string]map[topology.Endpoint]struct{}) int {
	total := 0
	for _, eps := range endpoints {
		total += len(eps)
	}
	return total
}

// Package digest reduces the rolling snapshot window into the weekly
// digest: a 7-day trend series, a week-over-week comparison and the
// priority items the rule engine flags.
package digest

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/triagewatch/triagewatch/internal/observability"
	"github.com/triagewatch/triagewatch/internal/rules"
	"github.com/triagewatch/triagewatch/internal/statestore"
	"github.com/triagewatch/triagewatch/internal/triage"
)

// throttleWindow bounds regeneration frequency. A request inside the
// window, or while a regeneration is already running, returns the cached
// digest unchanged.
const throttleWindow = 60 * time.Second

// trendDays is the length of the daily trend series
const trendDays = 7

// Digest is the most recent weekly roll-up. Regenerated on demand, never
// accumulated.
type Digest struct {
	GeneratedAt time.Time `json:"generatedAt"`

	// Daily trend series, oldest first. Days with no recorded check
	// appear as zero, which can understate gaps; accepted approximation.
	Labels          []string `json:"labels"`
	TotalSeries     []int    `json:"totalSeries"`
	UntriagedSeries []int    `json:"untriagedSeries"`

	// Summed aggregates of the last 7 days and the 7 days before them
	ThisWeek triage.Aggregate `json:"thisWeek"`
	LastWeek triage.Aggregate `json:"lastWeek"`

	// Week-over-week total change as a rounded percentage. A zero
	// baseline yields zero, not infinity.
	TrendPercent int `json:"trendPercent"`

	// Per-component untriaged breakdown from the latest snapshot
	Components []triage.ComponentCount `json:"components"`

	PriorityItems []string `json:"priorityItems"`
}

// Generator produces weekly digests from the snapshot store
type Generator struct {
	store  statestore.StateStore
	rules  *rules.Engine
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	cached        *Digest
	lastGenerated time.Time
	generating    bool
}

// NewGenerator creates a digest generator
func NewGenerator(store statestore.StateStore, ruleEngine *rules.Engine, logger *slog.Logger) *Generator {
	return &Generator{
		store:  store,
		rules:  ruleEngine,
		logger: logger,
		now:    time.Now,
	}
}

// Generate regenerates the weekly digest, or returns the cached one when
// throttled. Regeneration is idempotent; callers may invoke it freely.
func (g *Generator) Generate(ctx context.Context) (*Digest, error) {
	g.mu.Lock()
	if g.cached != nil && (g.generating || g.now().Sub(g.lastGenerated) < throttleWindow) {
		cached := g.cached
		g.mu.Unlock()
		observability.GetMetrics().DigestsThrottled.Inc()
		g.logger.Debug("digest request served from cache")
		return cached, nil
	}
	g.generating = true
	g.mu.Unlock()

	digest, err := g.build(ctx)

	g.mu.Lock()
	g.generating = false
	if err == nil {
		g.cached = digest
		g.lastGenerated = g.now()
	}
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}

	observability.GetMetrics().DigestsGenerated.Inc()
	g.logger.Info("weekly digest generated",
		"untriaged", digest.ThisWeek.Untriaged,
		"trend_percent", digest.TrendPercent,
		"priority_items", len(digest.PriorityItems))

	return digest, nil
}

// Cached returns the most recent digest without regenerating; ok is false
// when none has been generated yet.
func (g *Generator) Cached() (*Digest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached == nil {
		return nil, false
	}
	return g.cached, true
}

func (g *Generator) build(ctx context.Context) (*Digest, error) {
	now := g.now()

	// 14-day window: the last 7 days form this week, the 7 before them
	// last week.
	dates := make([]string, 0, 2*trendDays)
	for i := 2*trendDays - 1; i >= 0; i-- {
		dates = append(dates, now.AddDate(0, 0, -i).Format("2006-01-02"))
	}

	snapshots, err := g.store.GetSnapshots(ctx, dates)
	if err != nil {
		return nil, err
	}

	lastWeek := sumWeek(snapshots[:trendDays])
	thisWeek := sumWeek(snapshots[trendDays:])
	window := snapshots[trendDays:]
	latest := window[len(window)-1]

	digest := &Digest{
		GeneratedAt:  now,
		ThisWeek:     thisWeek,
		LastWeek:     lastWeek,
		TrendPercent: trendPercent(thisWeek.Total, lastWeek.Total),
		Components:   latest.Components,
	}

	for _, snapshot := range window {
		digest.Labels = append(digest.Labels, snapshot.Date)
		digest.TotalSeries = append(digest.TotalSeries, snapshot.Total)
		digest.UntriagedSeries = append(digest.UntriagedSeries, snapshot.Untriaged)
	}

	digest.PriorityItems = g.rules.Evaluate(rules.Input{
		Untriaged:    thisWeek.Untriaged,
		Total:        thisWeek.Total,
		TestBugs:     thisWeek.TestBugs,
		ProductBugs:  thisWeek.ProductBugs,
		InfraBugs:    thisWeek.InfraBugs,
		TrendPercent: digest.TrendPercent,
	})

	return digest, nil
}

// sumWeek reduces one 7-day slice of snapshots into a single aggregate
func sumWeek(snapshots []statestore.DailySnapshot) triage.Aggregate {
	var agg triage.Aggregate
	for _, s := range snapshots {
		agg.Total += s.Total
		agg.Untriaged += s.Untriaged
		agg.TestBugs += s.TestBugs
		agg.ProductBugs += s.ProductBugs
		agg.InfraBugs += s.InfraBugs
	}
	return agg
}

// trendPercent computes the week-over-week change as a rounded percentage
func trendPercent(current, baseline int) int {
	if baseline == 0 {
		return 0
	}
	return int(math.Round(float64(current-baseline) / float64(baseline) * 100))
}

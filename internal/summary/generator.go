package summary

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"glancecal/internal/config"
	"glancecal/internal/metrics"
	"glancecal/internal/model"
	"glancecal/internal/store"
)

// Generator produces the today and week summary artifacts and persists
// them through the slot cache.
type Generator struct {
	client  *Client
	store   *store.Store
	primary string
	loc     *time.Location
	budgets config.BudgetConfig

	now func() time.Time
}

// NewGenerator builds a Generator. primary is the owner always ordered
// first in summary text.
func NewGenerator(client *Client, st *store.Store, primary string, loc *time.Location, budgets config.BudgetConfig) *Generator {
	if loc == nil {
		loc = time.Local
	}
	return &Generator{
		client:  client,
		store:   st,
		primary: primary,
		loc:     loc,
		budgets: budgets,
		now:     time.Now,
	}
}

// generateVariant runs the remote call for one variant and falls back
// locally on any failure. It never returns an error: the fallback is the
// error handling.
func (g *Generator) generateVariant(ctx context.Context, variant Variant, events []model.Event, limit int) (string, bool) {
	prompt := buildPrompt(variant, events, g.primary, limit)

	text, err := g.client.Generate(ctx, prompt)
	if err != nil {
		log.WithFields(log.Fields{"variant": string(variant), "error": err}).
			Warn("remote generation failed, using local fallback")
		metrics.SummaryFallbacks.WithLabelValues(string(variant)).Inc()
		return fallbackText(events, g.primary, limit), true
	}
	return TrimToLimit(text, limit), false
}

// GenerateToday produces and persists the today summary. The returned
// error only ever reflects a cache write failure; remote-generation
// failures are absorbed by the fallback path.
func (g *Generator) GenerateToday(ctx context.Context, events []model.Event) (model.TodaySummary, error) {
	text, fellBack := g.generateVariant(ctx, VariantToday, events, g.budgets.Today)

	artifact := model.TodaySummary{
		Text:        text,
		EventCount:  len(events),
		Fallback:    fellBack,
		GeneratedAt: g.now().UTC(),
	}
	if err := g.store.Put(ctx, store.SlotTodaySummary, artifact); err != nil {
		return model.TodaySummary{}, err
	}
	return artifact, nil
}

// GenerateWeek produces and persists the week summary. The medium and
// large variants are requested concurrently with identical prompt content
// and different character budgets; each one falls back independently, and
// the composite artifact is persisted only after both have resolved —
// there is no partial-success state.
func (g *Generator) GenerateWeek(ctx context.Context, events []model.Event) (model.WeekSummary, error) {
	var (
		medium, large         string
		mediumFell, largeFell bool
	)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		medium, mediumFell = g.generateVariant(gctx, VariantWeekMedium, events, g.budgets.WeekMedium)
		return nil
	})
	grp.Go(func() error {
		large, largeFell = g.generateVariant(gctx, VariantWeekLarge, events, g.budgets.WeekLarge)
		return nil
	})
	// Both goroutines always return nil; Wait is the structured join.
	_ = grp.Wait()

	artifact := model.WeekSummary{
		SummaryMedium:  medium,
		SummaryLarge:   large,
		MediumFallback: mediumFell,
		LargeFallback:  largeFell,
		EventCount:     len(events),
		Days:           DayBreakdown(events, g.loc),
		GeneratedAt:    g.now().UTC(),
	}
	if err := g.store.Put(ctx, store.SlotWeekSummary, artifact); err != nil {
		return model.WeekSummary{}, err
	}
	return artifact, nil
}

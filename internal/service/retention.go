package service

import (
	"context"
)

// PruneHistory runs the daily retention job. Each horizon is enforced
// independently; one failed delete never blocks the others. Cutoffs are
// strict: a record exactly at the horizon survives until the next run.
func (m *Monitor) PruneHistory(ctx context.Context) error {
	now := m.now()

	if removed, err := m.prices.DeletePriceSamplesBefore(ctx, now.Add(-m.opts.PriceRetention)); err != nil {
		m.logger.Error().Err(err).Msg("failed to prune price history")
	} else if removed > 0 {
		m.logger.Info().Int64("removed", removed).Msg("price history pruned")
	}

	if removed, err := m.notes.DeleteNotificationsBefore(ctx, now.Add(-m.opts.NotifyRetention)); err != nil {
		m.logger.Error().Err(err).Msg("failed to prune notification logs")
	} else if removed > 0 {
		m.logger.Info().Int64("removed", removed).Msg("notification logs pruned")
	}

	if _, err := m.registry.RemoveIdle(ctx, now.Add(-m.opts.IdleSubRetention)); err != nil {
		m.logger.Error().Err(err).Msg("failed to reap idle watches")
	}

	return nil
}

package main

import (
	"context"
	"time"

	"github.com/pluginhost/core/internal/logger"
)

// watchAndReconcile runs the discovery pipeline's push-based watch mode and,
// after each quiet period, re-discovers and reconciles the result against the
// registry: new plugin ids are loaded, already-loaded ids are reloaded.
// Debounced because a single save can fire several fsnotify events for one
// logical change.
func (h *host) watchAndReconcile(ctx context.Context) {
	changes := make(chan struct{}, 1)

	go func() {
		err := h.discovery.Watch(ctx, func(root string) {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.Discovery().Warn().Err(err).Msg("watch mode stopped")
		}
	}()

	const quiet = 300 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-changes:
			if timer == nil {
				timer = time.NewTimer(quiet)
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(quiet)
			}
		case <-timerC(timer):
			timer = nil
			h.reconcile(ctx)
		}
	}
}

// timerC returns t.C, or a nil channel (which blocks forever) when t is nil.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (h *host) reconcile(ctx context.Context) {
	result := h.discovery.Discover(ctx)
	for _, srcErr := range result.Errors {
		logger.Discovery().Warn().Str("source", srcErr.Source).Err(srcErr.Err).Msg("discovery source failed during watch reconcile")
	}

	for _, dp := range result.Plugins {
		if _, ok := h.registry.Get(dp.Manifest.ID); ok {
			if err := h.supervisor.ReloadOne(ctx, dp.Manifest.ID); err != nil {
				logger.Supervisor().Warn().Str("plugin_id", dp.Manifest.ID).Err(err).Msg("watch reconcile: reload failed")
			}
			continue
		}
		if err := h.supervisor.LoadOne(ctx, dp); err != nil {
			logger.Supervisor().Warn().Str("plugin_id", dp.Manifest.ID).Err(err).Msg("watch reconcile: load failed")
		}
	}
}

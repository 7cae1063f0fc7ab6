// Package fanout delivers one notification to every registration of an owner
// and prunes the registrations the providers reject for good.
package fanout

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-pushrelay-service/internal/metrics"
	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

const DefaultMaxParallel = 32

// TaskRunner runs detached work. *background.Group satisfies it.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context)) error
}

// Summary counts the outcomes of one fan-out.
type Summary struct {
	Attempted int
	Delivered int
	Invalid   int
	Transient int
	Skipped   int
	Removed   int
}

type Coordinator struct {
	dispatchers map[string]relay.Dispatcher
	tokens      relay.RegistrationStore
	tasks       TaskRunner
	maxParallel int
	logger      *slog.Logger
}

// NewCoordinator keys dispatchers by platform name (relay.PlatformFCM etc).
func NewCoordinator(
	dispatchers map[string]relay.Dispatcher,
	tokens relay.RegistrationStore,
	tasks TaskRunner,
	maxParallel int,
	logger *slog.Logger,
) *Coordinator {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Coordinator{
		dispatchers: dispatchers,
		tokens:      tokens,
		tasks:       tasks,
		maxParallel: maxParallel,
		logger:      logger.With("component", "FanoutCoordinator"),
	}
}

type result struct {
	reg     relay.DeviceRegistration
	outcome relay.Outcome
}

// Run dispatches to every registration, waits for all attempts to settle and
// then removes the permanently invalid subset.
func (c *Coordinator) Run(ctx context.Context, regs []relay.DeviceRegistration, n relay.Notification) Summary {
	summary, invalid := c.send(ctx, regs, n)
	summary.Removed = c.prune(ctx, invalid)
	return summary
}

// Launch runs the fan-out detached from the caller. Pruning is scheduled as its
// own task once every attempt has settled.
func (c *Coordinator) Launch(regs []relay.DeviceRegistration, n relay.Notification) {
	if len(regs) == 0 {
		return
	}
	err := c.tasks.Go("fanout", func(ctx context.Context) {
		summary, invalid := c.send(ctx, regs, n)
		c.logger.Info("Fan-out complete",
			"attempted", summary.Attempted,
			"delivered", summary.Delivered,
			"invalid", summary.Invalid,
			"transient", summary.Transient,
			"skipped", summary.Skipped,
		)
		if len(invalid) == 0 {
			return
		}
		if err := c.tasks.Go("prune-tokens", func(ctx context.Context) {
			c.prune(ctx, invalid)
		}); err != nil {
			// Runner closed mid-shutdown; prune inline rather than leak dead tokens.
			c.prune(ctx, invalid)
		}
	})
	if err != nil {
		c.logger.Error("Could not schedule fan-out", "err", err, "registrations", len(regs))
	}
}

func (c *Coordinator) send(ctx context.Context, regs []relay.DeviceRegistration, n relay.Notification) (Summary, []relay.DeviceRegistration) {
	var summary Summary

	ready := c.prepare(ctx, regs)
	results := make([]result, len(regs))
	attempted := make([]bool, len(regs))

	g := new(errgroup.Group)
	g.SetLimit(c.maxParallel)

	for i, reg := range regs {
		d, ok := ready[platformOf(reg)]
		if !ok {
			summary.Skipped++
			continue
		}
		attempted[i] = true
		g.Go(func() error {
			start := time.Now()
			outcome, err := d.Dispatch(ctx, reg.Token, n)
			metrics.DispatchDuration.WithLabelValues(platformOf(reg)).Observe(time.Since(start).Seconds())
			metrics.DispatchOutcomes.WithLabelValues(platformOf(reg), outcome.String()).Inc()
			if err != nil {
				c.logger.Warn("Dispatch failed",
					"device", reg.Device,
					"platform", platformOf(reg),
					"outcome", outcome.String(),
					"err", err,
				)
			}
			results[i] = result{reg: reg, outcome: outcome}
			return nil
		})
	}
	_ = g.Wait()

	var invalid []relay.DeviceRegistration
	for i, r := range results {
		if !attempted[i] {
			continue
		}
		summary.Attempted++
		switch r.outcome {
		case relay.OutcomeDelivered:
			summary.Delivered++
		case relay.OutcomePermanentlyInvalid:
			summary.Invalid++
			invalid = append(invalid, r.reg)
		default:
			summary.Transient++
		}
	}
	return summary, invalid
}

// prepare runs each platform's preflight once and returns the dispatchers that may send.
func (c *Coordinator) prepare(ctx context.Context, regs []relay.DeviceRegistration) map[string]relay.Dispatcher {
	ready := make(map[string]relay.Dispatcher)
	checked := make(map[string]bool)

	for _, reg := range regs {
		platform := platformOf(reg)
		if checked[platform] {
			continue
		}
		checked[platform] = true

		d, ok := c.dispatchers[platform]
		if !ok {
			c.logger.Warn("No dispatcher configured for platform", "platform", platform)
			continue
		}
		if p, ok := d.(relay.Preparer); ok {
			if err := p.Prepare(ctx); err != nil {
				metrics.PrepareFailures.WithLabelValues(platform).Inc()
				c.logger.Error("Platform preflight failed, skipping batch", "platform", platform, "err", err)
				continue
			}
		}
		ready[platform] = d
	}
	return ready
}

func (c *Coordinator) prune(ctx context.Context, invalid []relay.DeviceRegistration) int {
	removed := 0
	for _, reg := range invalid {
		if err := c.tokens.RemoveToken(ctx, reg.Owner, reg.Token); err != nil {
			c.logger.Error("Failed to remove invalid token", "device", reg.Device, "err", err)
			continue
		}
		removed++
		metrics.TokensRemoved.Inc()
	}
	if removed > 0 {
		c.logger.Info("Removed invalid registrations", "count", removed)
	}
	return removed
}

func platformOf(reg relay.DeviceRegistration) string {
	if reg.Platform == "" {
		return relay.PlatformFCM
	}
	return reg.Platform
}

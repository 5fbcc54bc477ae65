// Package provider resolves today's Signal through an ordered list of sources:
// the remote precomputed signal, the last persisted signal, then local computation.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"RotationSentinel/internal/metrics"
	"RotationSentinel/internal/model"
	"RotationSentinel/internal/strategy"
)

// Provider yields a Signal or an error.
type Provider interface {
	Name() string
	Signal(ctx context.Context) (*model.Signal, error)
}

// Result is a resolved signal and the tier that produced it.
type Result struct {
	Signal   *model.Signal
	Provider string
}

// Chain tries providers in order and stops at the first success.
type Chain struct {
	providers []Provider
	store     *SignalStore
	log       zerolog.Logger
	now       func() time.Time
}

// NewChain builds a chain. Successful results from any provider other than
// the store itself are persisted to store when it is non-nil.
func NewChain(store *SignalStore, log zerolog.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, store: store, log: log, now: time.Now}
}

// Resolve returns the first signal produced by the chain, stamping
// GeneratedAt when the tier left it empty. When every tier fails the error
// wraps ErrAllTiersFailed and each tier's error.
func (c *Chain) Resolve(ctx context.Context) (Result, error) {
	var errs []error
	for _, p := range c.providers {
		sig, err := p.Signal(ctx)
		if err != nil {
			metrics.ProviderResults.WithLabelValues(p.Name(), "error").Inc()
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			c.log.Warn().Err(err).Str("provider", p.Name()).Msg("signal provider failed, trying next")
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		metrics.ProviderResults.WithLabelValues(p.Name(), "ok").Inc()
		if sig.GeneratedAt == "" {
			sig.GeneratedAt = c.now().Format(time.RFC3339)
		}
		if c.store != nil && p != Provider(c.store) {
			if err := c.store.Save(sig); err != nil {
				c.log.Error().Err(err).Msg("persist signal failed")
			}
		}
		c.log.Info().Str("provider", p.Name()).Str("status", string(sig.Status)).Str("date", sig.Date).Msg("signal resolved")
		return Result{Signal: sig, Provider: p.Name()}, nil
	}
	return Result{}, fmt.Errorf("%w: %w", model.ErrAllTiersFailed, errors.Join(errs...))
}

// LocalProvider computes the signal with the engine.
type LocalProvider struct {
	Engine *strategy.Engine
}

func (l *LocalProvider) Name() string { return "local" }

func (l *LocalProvider) Signal(ctx context.Context) (*model.Signal, error) {
	return l.Engine.ComputeSignal(ctx)
}

// Package benv sequences the benchmark environment transitions. Both modes
// are fixed linear pipelines: every step either succeeds or aborts the whole
// invocation, leaving the log as the only record of how far it got.
package benv

import (
	"context"

	"github.com/milessabin/compiler-benchmark/internal/log"
	"github.com/milessabin/compiler-benchmark/pkg/config"
)

// Checker verifies the machine baseline before anything is mutated.
type Checker interface {
	Run(ctx context.Context) error
}

// ServiceController suspends and resumes background services.
type ServiceController interface {
	Stop(ctx context.Context, entries []config.ServiceEntry) error
	Start(ctx context.Context, entries []config.ServiceEntry) error
}

// FrequencyController pins and releases the CPU frequency scaling policy.
type FrequencyController interface {
	SetFixed(ctx context.Context, frequencyMhz int) error
	ResetAdaptive(ctx context.Context) error
}

// ShieldController creates and destroys the benchmark CPU shield.
type ShieldController interface {
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// IRQAffinityManager applies and reverses interrupt routing.
type IRQAffinityManager interface {
	Setup(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Options are the per-subsystem opt-outs of the set pipeline. Reset has no
// opt-outs: it always fully restores.
type Options struct {
	Services    bool
	Frequency   bool
	Shield      bool
	IRQAffinity bool
}

// DefaultOptions enables every subsystem.
func DefaultOptions() Options {
	return Options{Services: true, Frequency: true, Shield: true, IRQAffinity: true}
}

// Env ties the controllers together into the set and reset pipelines.
type Env struct {
	cfg      *config.Config
	checker  Checker
	services ServiceController
	freq     FrequencyController
	shield   ShieldController
	irq      IRQAffinityManager
}

// New creates an Env over the given controllers.
func New(
	cfg *config.Config,
	checker Checker,
	services ServiceController,
	freq FrequencyController,
	shield ShieldController,
	irq IRQAffinityManager,
) *Env {
	return &Env{
		cfg:      cfg,
		checker:  checker,
		services: services,
		freq:     freq,
		shield:   shield,
		irq:      irq,
	}
}

// Set prepares the machine for benchmarking: precondition checks first, then
// the enabled subsystems in fixed order. The first failure aborts.
func (e *Env) Set(ctx context.Context, opts Options) error {
	ctx = context.WithValue(ctx, log.Mode{}, "set")

	if err := e.checker.Run(step(ctx, "precheck")); err != nil {
		return err
	}

	if opts.Services {
		if err := e.services.Stop(step(ctx, "services"), e.cfg.Services); err != nil {
			return err
		}
	} else {
		log.Infof(ctx, "Skipping service suspension")
	}

	if opts.Frequency {
		if err := e.freq.SetFixed(step(ctx, "frequency"), e.cfg.Tuning.FixedFrequencyMhz); err != nil {
			return err
		}
	} else {
		log.Infof(ctx, "Skipping frequency pinning")
	}

	if opts.Shield {
		if err := e.shield.Setup(step(ctx, "shield")); err != nil {
			return err
		}
	} else {
		log.Infof(ctx, "Skipping CPU shielding")
	}

	if opts.IRQAffinity {
		if err := e.irq.Setup(step(ctx, "irq-affinity")); err != nil {
			return err
		}
	} else {
		log.Infof(ctx, "Skipping interrupt affinity routing")
	}

	log.Infof(ctx, "Benchmark environment ready")
	return nil
}

// Reset restores the machine unconditionally, reversing the subsystems in
// fixed order.
func (e *Env) Reset(ctx context.Context) error {
	ctx = context.WithValue(ctx, log.Mode{}, "reset")

	if err := e.irq.Reset(step(ctx, "irq-affinity")); err != nil {
		return err
	}
	if err := e.shield.Teardown(step(ctx, "shield")); err != nil {
		return err
	}
	if err := e.freq.ResetAdaptive(step(ctx, "frequency")); err != nil {
		return err
	}
	if err := e.services.Start(step(ctx, "services"), e.cfg.Services); err != nil {
		return err
	}

	log.Infof(ctx, "Benchmark environment restored")
	return nil
}

func step(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, log.Step{}, name)
}

// Package scheduler implements the recurring-job producer: periodic
// maintenance work, fanned out across the shard set, dispatched as
// continuations.
package scheduler

import (
	"context"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/perdure/perdure/activator"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/flags"
	"github.com/perdure/perdure/persistence"
	"github.com/perdure/perdure/scheduler/shard"
	"github.com/robfig/cron/v3"
)

// DefaultClaimInterval is the default duration of a shard claim.
const DefaultClaimInterval = 1 * time.Minute

// A Job describes one family of recurring per-shard scans.
type Job struct {
	// Name identifies the job family in logs and tracking properties.
	Name string

	// Spec is the cron expression that controls when the job fires.
	Spec string

	// Handler is the machine that handles one shard's scan.
	Handler string

	// Flag is the name of the feature flag gating dispatch. It is
	// evaluated at fire time; if it is empty the job always fires.
	Flag string

	// ClaimInterval is how long a producer's claim on each shard lasts.
	// It must be at least as long as the firing interval, otherwise a
	// firing can scan a shard twice. If it is zero,
	// DefaultClaimInterval is used.
	ClaimInterval time.Duration
}

// Producer registers recurring jobs with a cron scheduler and fans each
// firing out across the whole shard set.
//
// Job families are independent; one family's failure or disablement
// never affects another, and within a firing one shard's failure never
// blocks its siblings.
type Producer struct {
	// Executor starts the per-shard continuations.
	Executor activator.Executor

	// DataStore holds the shard claims that keep concurrent producers
	// from duplicating a scan. If it is nil, claims are disabled and the
	// producer assumes it is the only instance.
	DataStore persistence.DataStore

	// Flags gates dispatch of flagged jobs. If it is nil, every flag is
	// treated as enabled.
	Flags flags.Provider

	// Logger is the target for log messages from the producer.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	cron *cron.Cron
	ctx  context.Context
}

// Register adds a recurring job. It must be called before Run().
func (p *Producer) Register(j Job) error {
	if p.cron == nil {
		p.cron = cron.New()
	}

	_, err := p.cron.AddFunc(j.Spec, func() {
		p.fire(p.ctx, j)
	})

	return err
}

// Run fires registered jobs until ctx is canceled.
func (p *Producer) Run(ctx context.Context) error {
	if p.cron == nil {
		p.cron = cron.New()
	}

	p.ctx = ctx
	p.cron.Start()

	<-ctx.Done()
	<-p.cron.Stop().Done()

	return ctx.Err()
}

// fire dispatches one firing of j, one continuation per shard.
func (p *Producer) fire(ctx context.Context, j Job) {
	if j.Flag != "" {
		f := p.Flags
		if f == nil {
			f = flags.Enabled
		}

		on, err := f.IsEnabled(ctx, j.Flag)
		if err != nil {
			logging.Log(
				p.Logger,
				"skipping job %s, cannot evaluate flag %s: %s",
				j.Name,
				j.Flag,
				err,
			)
			return
		}

		if !on {
			logging.Debug(
				p.Logger,
				"skipping job %s, flag %s is disabled",
				j.Name,
				j.Flag,
			)
			return
		}
	}

	for _, s := range shard.All() {
		ok, err := p.claim(ctx, j, s)
		if err != nil {
			logging.Log(
				p.Logger,
				"job %s cannot claim shard %s: %s",
				j.Name,
				s,
				err,
			)
			continue
		}

		if !ok {
			logging.Debug(
				p.Logger,
				"skipping job %s for shard %s, claimed by another producer",
				j.Name,
				s,
			)
			continue
		}

		if _, err := p.Executor.Execute(
			ctx,
			continuation.Input{
				Handler: j.Handler,
				Payload: shard.Payload{Shard: s},
				Properties: map[string]string{
					"job":   j.Name,
					"shard": s,
				},
			},
		); err != nil {
			// One shard's failure must not block its siblings.
			logging.Log(
				p.Logger,
				"job %s failed for shard %s: %s",
				j.Name,
				s,
				err,
			)
		}
	}
}

// claim takes the lease on one shard of j's scan.
//
// ok is false if another producer already holds a live claim, in which
// case this producer must not scan the shard.
func (p *Producer) claim(ctx context.Context, j Job, s string) (bool, error) {
	if p.DataStore == nil {
		return true, nil
	}

	c, _, err := p.DataStore.LoadJobClaim(ctx, j.Name, s)
	if err != nil {
		return false, err
	}

	now := time.Now()
	if c.ExpiresAt.After(now) {
		return false, nil
	}

	interval := j.ClaimInterval
	if interval <= 0 {
		interval = DefaultClaimInterval
	}

	err = p.DataStore.Persist(
		ctx,
		persistence.Batch{
			persistence.SaveJobClaim{
				Claim: persistence.JobClaim{
					Job:       j.Name,
					Shard:     s,
					ExpiresAt: now.Add(interval),
					Revision:  c.Revision,
				},
			},
		},
	)
	if err != nil {
		// A conflict means another producer took the claim first.
		if _, ok := err.(persistence.ConflictError); ok {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

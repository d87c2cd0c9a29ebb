package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moltpfp/internal/domain"
	"moltpfp/internal/infra"
	"moltpfp/internal/providers/image"
)

// Policy bounds how long an asynchronous job may be polled.
type Policy struct {
	PollInterval time.Duration
	// MaxPolls caps the number of Poll calls per job.
	MaxPolls int
	// MaxWait caps the wall-clock time spent waiting for one job.
	MaxWait time.Duration
	// MaxPollErrors is how many consecutive transport failures are tolerated
	// while polling before the job is abandoned.
	MaxPollErrors int
}

// DefaultPolicy polls every two seconds for at most three minutes.
func DefaultPolicy() Policy {
	return Policy{
		PollInterval:  2 * time.Second,
		MaxPolls:      90,
		MaxWait:       3 * time.Minute,
		MaxPollErrors: 3,
	}
}

// PolicyFromConfig reads the polling bounds from cfg.
func PolicyFromConfig(cfg *infra.Config) Policy {
	p := DefaultPolicy()
	if cfg.PollInterval > 0 {
		p.PollInterval = cfg.PollInterval
	}
	if cfg.MaxPolls > 0 {
		p.MaxPolls = cfg.MaxPolls
	}
	if cfg.MaxWait > 0 {
		p.MaxWait = cfg.MaxWait
	}
	return p
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.MaxPolls <= 0 {
		p.MaxPolls = d.MaxPolls
	}
	if p.MaxWait <= 0 {
		p.MaxWait = d.MaxWait
	}
	if p.MaxPollErrors < 0 {
		p.MaxPollErrors = 0
	}
	return p
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger used for submit/poll tracing.
func WithLogger(l *infra.Logger) Option {
	return func(o *Orchestrator) { o.logger = infra.OrDiscard(l) }
}

// WithImageOptions sets the per-request options passed to providers.
func WithImageOptions(opts image.Options) Option {
	return func(o *Orchestrator) { o.imageOpts = opts }
}

// Orchestrator drives one provider's submit/poll cycle to a terminal result.
// It holds no mutable state after construction and is safe for concurrent use.
type Orchestrator struct {
	providers  []image.Provider
	configured []image.Provider
	policy     Policy
	clock      Clock
	logger     *infra.Logger
	imageOpts  image.Options
}

// New resolves the ordered preference list once: the configured subset, in
// order, is the fallback chain.
func New(providers []image.Provider, policy Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: append([]image.Provider(nil), providers...),
		policy:    policy.normalized(),
		clock:     RealClock(),
		logger:    infra.OrDiscard(nil),
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, p := range o.providers {
		if p != nil && p.Configured() {
			o.configured = append(o.configured, p)
		}
	}
	return o
}

// Providers returns every provider in preference order, configured or not.
func (o *Orchestrator) Providers() []image.Provider {
	return append([]image.Provider(nil), o.providers...)
}

// Active returns the provider new jobs go to, or nil when none is configured.
func (o *Orchestrator) Active() image.Provider {
	if len(o.configured) == 0 {
		return nil
	}
	return o.configured[0]
}

// Provider looks up a provider by name.
func (o *Orchestrator) Provider(name string) image.Provider {
	for _, p := range o.providers {
		if p != nil && p.Name() == name {
			return p
		}
	}
	return nil
}

// Submit hands prompt to the first configured provider. Only an Unconfigured
// error moves on to the next provider; any other failure is returned as-is.
func (o *Orchestrator) Submit(ctx context.Context, prompt domain.Prompt) (domain.JobHandle, error) {
	if prompt.IsZero() {
		return domain.JobHandle{}, domain.ErrInvalidPrompt
	}
	for _, p := range o.configured {
		handle, err := p.Submit(ctx, prompt, o.imageOpts)
		if err == nil {
			o.logger.Info().
				Str("provider", p.Name()).
				Str("kind", string(p.Kind())).
				Str("job_id", handle.ID).
				Bool("resolved", handle.Resolved()).
				Msg("generation: job submitted")
			return handle, nil
		}
		if errors.Is(err, domain.ErrUnconfigured) {
			o.logger.Warn().Str("provider", p.Name()).Msg("generation: provider unconfigured, trying next")
			continue
		}
		return domain.JobHandle{}, &domain.GenerationError{Kind: domain.GenerationSubmit, Provider: p.Name(), Err: err}
	}
	return domain.JobHandle{}, &domain.GenerationError{Kind: domain.GenerationNoProvider}
}

// Status reports the current state of a job without waiting. Resolved
// handles are answered locally.
func (o *Orchestrator) Status(ctx context.Context, handle domain.JobHandle) (domain.JobResult, error) {
	if handle.Resolved() {
		return *handle.Result, nil
	}
	p := o.Provider(handle.Provider)
	if p == nil || !p.Configured() {
		return domain.JobResult{}, &domain.GenerationError{Kind: domain.GenerationNoProvider, Provider: handle.Provider}
	}
	return p.Poll(ctx, handle)
}

// Generate submits prompt and waits for the image URL.
func (o *Orchestrator) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	handle, err := o.Submit(ctx, prompt)
	if err != nil {
		return "", err
	}
	return o.Await(ctx, handle)
}

// Await polls handle until it reaches a terminal state or a policy bound is hit.
func (o *Orchestrator) Await(ctx context.Context, handle domain.JobHandle) (string, error) {
	result := domain.Pending()
	if handle.Result != nil {
		result = *handle.Result
	}

	var provider image.Provider
	if !result.Status.IsTerminal() {
		provider = o.Provider(handle.Provider)
		if provider == nil {
			return "", &domain.GenerationError{Kind: domain.GenerationNoProvider, Provider: handle.Provider}
		}
	}

	deadline := o.clock.Now().Add(o.policy.MaxWait)
	polls, pollErrors := 0, 0
	for !result.Status.IsTerminal() {
		remaining := deadline.Sub(o.clock.Now())
		if polls >= o.policy.MaxPolls || remaining <= 0 {
			o.logger.Warn().
				Str("provider", handle.Provider).
				Str("job_id", handle.ID).
				Int("polls", polls).
				Msg("generation: job timed out")
			return "", &domain.GenerationError{
				Kind:     domain.GenerationTimeout,
				Provider: handle.Provider,
				Reason:   fmt.Sprintf("no terminal state after %d polls", polls),
			}
		}
		wait := o.policy.PollInterval
		if remaining < wait {
			wait = remaining
		}
		if err := o.clock.Sleep(ctx, wait); err != nil {
			return "", contextError(handle.Provider, err)
		}
		polls++

		next, err := provider.Poll(ctx, handle)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", contextError(handle.Provider, ctxErr)
			}
			if errors.Is(err, domain.ErrProviderTransport) && pollErrors < o.policy.MaxPollErrors {
				pollErrors++
				o.logger.Warn().Err(err).Str("provider", handle.Provider).Int("attempt", pollErrors).Msg("generation: poll failed, retrying")
				continue
			}
			return "", &domain.GenerationError{Kind: domain.GenerationPoll, Provider: handle.Provider, Err: err}
		}
		pollErrors = 0
		result = next
		o.logger.Debug().
			Str("provider", handle.Provider).
			Str("job_id", handle.ID).
			Str("status", string(result.Status)).
			Int("poll", polls).
			Msg("generation: polled")
	}

	if result.Status == domain.JobStatusFailed {
		return "", &domain.GenerationError{Kind: domain.GenerationProviderFailed, Provider: handle.Provider, Reason: result.Reason}
	}
	if result.ImageURL == "" {
		return "", &domain.GenerationError{
			Kind:     domain.GenerationPoll,
			Provider: handle.Provider,
			Err:      domain.NewMalformed(handle.Provider, "succeeded without image url", nil),
		}
	}
	return result.ImageURL, nil
}

func contextError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.GenerationError{Kind: domain.GenerationTimeout, Provider: provider, Err: err}
	}
	return &domain.GenerationError{Kind: domain.GenerationPoll, Provider: provider, Err: err}
}

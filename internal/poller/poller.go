package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/infra/credentials"
	"github.com/panora77956/v3-sub000/internal/providers/genai"
	"github.com/panora77956/v3-sub000/internal/providers/video"
)

const (
	DefaultRounds        = 120
	DefaultInterval      = 5 * time.Second
	DefaultMissingBudget = 3
)

// Checker is the status capability of the remote client.
type Checker interface {
	BatchCheck(ctx context.Context, account string, handles []domain.Handle) (map[string]video.CheckResult, error)
}

// Options configures a Poller.
type Options struct {
	Checker       Checker
	Rounds        int
	Interval      time.Duration
	// MissingBudget is how many consecutive responses may omit a handle
	// before its copy fails. Zero means DefaultMissingBudget.
	MissingBudget int
	Sleep         func(context.Context, time.Duration) error
	Logger        *infra.Logger
	Metrics       *infra.Metrics
	// OnChange is called after a copy changed status.
	OnChange func(job *domain.Job, copyIndex int)
}

// Poller drives outstanding copies to READY or a terminal status.
type Poller struct {
	checker  Checker
	rounds   int
	interval time.Duration
	budget   int
	sleep    func(context.Context, time.Duration) error
	logger   *infra.Logger
	metrics  *infra.Metrics
	onChange func(*domain.Job, int)
}

func New(opts Options) (*Poller, error) {
	if opts.Checker == nil {
		return nil, errors.New("poller: checker is required")
	}
	p := &Poller{
		checker:  opts.Checker,
		rounds:   opts.Rounds,
		interval: opts.Interval,
		budget:   opts.MissingBudget,
		sleep:    opts.Sleep,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		onChange: opts.OnChange,
	}
	if p.rounds <= 0 {
		p.rounds = DefaultRounds
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.budget <= 0 {
		p.budget = DefaultMissingBudget
	}
	if p.sleep == nil {
		p.sleep = credentials.Sleep
	}
	if p.logger == nil {
		p.logger = infra.DiscardLogger()
	}
	if p.onChange == nil {
		p.onChange = func(*domain.Job, int) {}
	}
	return p, nil
}

type ref struct {
	job   *domain.Job
	index int
}

// Run polls until no copy is outstanding or the round budget is spent.
// Copies still outstanding after the last round become TIMEOUT. Run
// returns early only when ctx ends.
func (p *Poller) Run(ctx context.Context, jobs []*domain.Job) error {
	for round := 1; round <= p.rounds; round++ {
		if len(outstanding(jobs)) == 0 {
			return nil
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Round(ctx, jobs)
	}

	for _, r := range outstanding(jobs) {
		cause := &domain.CopyError{
			Kind:    domain.KindTimeout,
			Account: r.job.Items[r.index-1].Handle.Account,
			Copy:    r.index,
			Err:     fmt.Errorf("still processing after %d rounds", p.rounds),
		}
		p.finish(ctx, r.job, r.index, domain.StatusTimeout, cause)
	}
	return nil
}

// Round checks every outstanding copy once, one request per account.
func (p *Poller) Round(ctx context.Context, jobs []*domain.Job) {
	p.metrics.RecordPollRound(ctx)
	groups := make(map[string][]ref)
	for _, r := range outstanding(jobs) {
		account := r.job.Items[r.index-1].Handle.Account
		groups[account] = append(groups[account], r)
	}
	accounts := make([]string, 0, len(groups))
	for account := range groups {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	for _, account := range accounts {
		refs := groups[account]
		handles := make([]domain.Handle, 0, len(refs))
		for _, r := range refs {
			handles = append(handles, r.job.Items[r.index-1].Handle)
		}
		results, err := p.checker.BatchCheck(ctx, account, handles)
		if err != nil {
			p.logger.Warn().Err(err).Str("account", account).Int("handles", len(handles)).Msg("poller: batch check failed")
			continue
		}
		for _, r := range refs {
			p.apply(ctx, r.job, r.index, results)
		}
	}
}

func (p *Poller) apply(ctx context.Context, job *domain.Job, index int, results map[string]video.CheckResult) {
	c := &job.Items[index-1]
	if !c.Status.Outstanding() {
		return
	}
	res, ok := results[c.Handle.Operation]
	if !ok {
		c.MissingRounds++
		if c.MissingRounds <= p.budget {
			p.logger.Debug().Str("account", c.Handle.Account).Str("job_id", job.ID).Int("copy", index).
				Int("missing_rounds", c.MissingRounds).Msg("poller: handle missing from response")
			return
		}
		p.finish(ctx, job, index, domain.StatusFailed, &domain.CopyError{
			Kind:    domain.KindMissing,
			Account: c.Handle.Account,
			Copy:    index,
			Err:     fmt.Errorf("operation %s missing from %d consecutive responses", c.Handle.Operation, c.MissingRounds),
		})
		return
	}
	c.MissingRounds = 0
	if res.Raw != "" {
		c.Handle.RawStatus = res.Raw
	}

	switch res.Status {
	case genai.Done:
		c.ArtifactURL = res.URL
		if job.Transition(index, domain.StatusReady) == nil {
			p.onChange(job, index)
		}
	case genai.DoneNoURL:
		p.finish(ctx, job, index, domain.StatusDoneNoURL, &domain.CopyError{
			Kind:    domain.KindMissing,
			Account: c.Handle.Account,
			Copy:    index,
			Err:     domain.ErrNoArtifactURL,
		})
	case genai.Failed:
		msg := res.Message
		if msg == "" {
			msg = "generation failed"
		}
		p.finish(ctx, job, index, domain.StatusFailed, &domain.CopyError{
			Kind:    domain.KindUnknown,
			Account: c.Handle.Account,
			Copy:    index,
			Err:     errors.New(msg),
		})
	default:
		if c.Status != domain.StatusProcessing && job.Transition(index, domain.StatusProcessing) == nil {
			p.onChange(job, index)
		}
	}
}

func (p *Poller) finish(ctx context.Context, job *domain.Job, index int, status domain.Status, cause *domain.CopyError) {
	if err := job.Fail(index, status, cause); err != nil {
		return
	}
	p.metrics.RecordTerminal(ctx, string(status))
	p.logger.Info().Str("account", cause.Account).Str("job_id", job.ID).Int("copy", index).
		Str("status", string(status)).Msg("poller: copy finished")
	p.onChange(job, index)
}

func outstanding(jobs []*domain.Job) []ref {
	var out []ref
	for _, j := range jobs {
		for _, c := range j.Items {
			if c.Status.Outstanding() && c.Handle.Valid() {
				out = append(out, ref{job: j, index: c.Index})
			}
		}
	}
	return out
}

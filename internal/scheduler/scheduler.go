package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/infra/credentials"
	"github.com/panora77956/v3-sub000/internal/providers/video"
)

const DefaultSubmitDelay = 500 * time.Millisecond

var ErrNoAccounts = errors.New("scheduler: no enabled accounts")

// Submitter is the part of the remote client the workers need.
type Submitter interface {
	Submit(ctx context.Context, account string, req video.SubmitRequest) (video.Submission, error)
}

// Phase tags an Update.
type Phase string

const (
	PhaseUploading  Phase = "uploading"
	PhaseSubmitting Phase = "submitting"
	PhaseSubmitted  Phase = "submitted"
)

// Update is an immutable message from a worker to the consumer that owns
// the jobs. Index is the job's position in the dispatched slice.
type Update struct {
	Index      int
	Account    string
	Phase      Phase
	Submission video.Submission
	Err        error
}

// Options configures a Scheduler.
type Options struct {
	Submitter   Submitter
	SubmitDelay time.Duration
	Buffer      int
	Sleep       func(context.Context, time.Duration) error
	Logger      *infra.Logger
}

// Scheduler spreads submissions over accounts: one worker per account,
// sequential inside a worker, workers in parallel.
type Scheduler struct {
	submitter Submitter
	delay     time.Duration
	buffer    int
	sleep     func(context.Context, time.Duration) error
	logger    *infra.Logger
}

func New(opts Options) (*Scheduler, error) {
	if opts.Submitter == nil {
		return nil, errors.New("scheduler: submitter is required")
	}
	delay := opts.SubmitDelay
	if delay < 0 {
		delay = 0
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = credentials.Sleep
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Scheduler{
		submitter: opts.Submitter,
		delay:     delay,
		buffer:    opts.Buffer,
		sleep:     sleep,
		logger:    logger,
	}, nil
}

// Partition assigns job i to accounts[i mod M] and returns the job indexes
// of every account in order. Accounts without work are omitted.
func Partition(jobs int, accounts []string) map[string][]int {
	buckets := make(map[string][]int, len(accounts))
	if len(accounts) == 0 {
		return buckets
	}
	for i := 0; i < jobs; i++ {
		account := accounts[i%len(accounts)]
		buckets[account] = append(buckets[account], i)
	}
	return buckets
}

// Dispatch starts one worker per non-empty bucket and returns the update
// channel. The channel is closed once every worker has returned.
func (s *Scheduler) Dispatch(ctx context.Context, accounts []string, reqs []video.SubmitRequest) (<-chan Update, error) {
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	buffer := s.buffer
	if buffer <= 0 {
		buffer = 3*len(reqs) + 1
	}
	out := make(chan Update, buffer)
	buckets := Partition(len(reqs), accounts)

	var g errgroup.Group
	for _, account := range accounts {
		indexes := buckets[account]
		if len(indexes) == 0 {
			continue
		}
		g.Go(func() error {
			s.work(ctx, account, indexes, reqs, out)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(out)
	}()
	return out, nil
}

func (s *Scheduler) work(ctx context.Context, account string, indexes []int, reqs []video.SubmitRequest, out chan<- Update) {
	logger := s.logger.With().Str("account", account).Logger()
	for n, idx := range indexes {
		if n > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				s.abandon(account, indexes[n:], err, out)
				return
			}
		}
		if err := ctx.Err(); err != nil {
			s.abandon(account, indexes[n:], err, out)
			return
		}
		req := reqs[idx]
		if req.AssetPath != "" && req.MediaID == "" {
			out <- Update{Index: idx, Account: account, Phase: PhaseUploading}
		}
		out <- Update{Index: idx, Account: account, Phase: PhaseSubmitting}

		sub, err := s.submit(ctx, account, req)
		if err != nil {
			logger.Warn().Err(err).Str("job_id", req.JobID).Msg("scheduler: submit failed")
		} else {
			logger.Debug().Str("job_id", req.JobID).Int("accepted", sub.Accepted()).Msg("scheduler: submitted")
		}
		out <- Update{Index: idx, Account: account, Phase: PhaseSubmitted, Submission: sub, Err: err}
	}
}

// submit turns a panicking submitter into an error for the current job.
func (s *Scheduler) submit(ctx context.Context, account string, req video.SubmitRequest) (sub video.Submission, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: submit panicked: %v", r)
			sub = video.Submission{}
		}
	}()
	return s.submitter.Submit(ctx, account, req)
}

// abandon reports the jobs a canceled worker never reached.
func (s *Scheduler) abandon(account string, indexes []int, cause error, out chan<- Update) {
	for _, idx := range indexes {
		out <- Update{Index: idx, Account: account, Phase: PhaseSubmitted, Err: cause}
	}
}

// Apply folds u into job. It must only be called by the goroutine that owns
// the job collection.
func Apply(job *domain.Job, u Update) error {
	switch u.Phase {
	case PhaseUploading:
		return transitionAll(job, domain.StatusUploading)
	case PhaseSubmitting:
		job.Account = u.Account
		return transitionAll(job, domain.StatusSubmitting)
	case PhaseSubmitted:
		if u.Submission.Model != "" {
			job.Model = u.Submission.Model
		}
		if u.Submission.MediaID != "" {
			job.MediaID = u.Submission.MediaID
		}
		causes := make(map[int]*domain.CopyError, job.Copies)
		for idx, ce := range u.Submission.Errors {
			causes[idx] = ce
		}
		if u.Err != nil {
			for idx := 1; idx <= job.Copies; idx++ {
				if causes[idx] == nil {
					causes[idx] = domain.NewCopyError(u.Account, idx, u.Err)
				}
			}
		}
		return job.AttachHandles(u.Account, u.Submission.Handles, causes)
	default:
		return fmt.Errorf("scheduler: unknown phase %q", u.Phase)
	}
}

func transitionAll(job *domain.Job, status domain.Status) error {
	for _, c := range job.Items {
		if c.Status.Terminal() {
			continue
		}
		if err := job.Transition(c.Index, status); err != nil {
			return err
		}
	}
	return nil
}

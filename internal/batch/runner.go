package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/downloader"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/infra/credentials"
	"github.com/panora77956/v3-sub000/internal/poller"
	"github.com/panora77956/v3-sub000/internal/providers/video"
	"github.com/panora77956/v3-sub000/internal/scheduler"
	"github.com/panora77956/v3-sub000/internal/storage"
)

// Remote is everything the runner needs from the remote client.
// *video.Client implements it.
type Remote interface {
	scheduler.Submitter
	poller.Checker
	downloader.Fetcher
}

var _ Remote = (*video.Client)(nil)

// Recorder persists terminal copies.
type Recorder interface {
	RecordCopy(ctx context.Context, batchID string, job *domain.Job, index int) error
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Pool        *credentials.Pool
	Remote      Remote
	Store       *storage.FileStore
	Namer       downloader.Namer
	Thumbnailer downloader.Thumbnailer
	Recorder    Recorder
	Metrics     *infra.Metrics
	Logger      *infra.Logger
	Sleep       func(context.Context, time.Duration) error
}

// Result summarizes a finished run.
type Result struct {
	BatchID string
	Paths   []string
	Counts  map[domain.Status]int
}

// Runner executes batches: dispatch, poll, download. The goroutine calling
// Run is the only one touching the batch's jobs until Run returns.
type Runner struct {
	settings Settings
	deps     Deps
	sched    *scheduler.Scheduler
	logger   *infra.Logger
}

func NewRunner(settings Settings, deps Deps) (*Runner, error) {
	if deps.Pool == nil {
		return nil, errors.New("batch: credential pool is required")
	}
	if deps.Remote == nil {
		return nil, errors.New("batch: remote client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("batch: file store is required")
	}
	if settings.Provider == "" {
		settings.Provider = credentials.ProviderVideo
	}
	if deps.Logger == nil {
		deps.Logger = infra.DiscardLogger()
	}
	sched, err := scheduler.New(scheduler.Options{
		Submitter:   deps.Remote,
		SubmitDelay: settings.SubmitDelay,
		Sleep:       deps.Sleep,
		Logger:      deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Runner{settings: settings, deps: deps, sched: sched, logger: deps.Logger}, nil
}

type run struct {
	*Runner
	batch *Batch
	sink  domain.Sink
}

// accounts lists the enabled accounts starting at the pool's next one, so
// successive batches put their first job on a different account.
func (r *Runner) accounts() []string {
	creds := r.deps.Pool.All(r.settings.Provider)
	first, ok := r.deps.Pool.Next(r.settings.Provider)
	start := 0
	for i, cred := range creds {
		if ok && cred.Name == first.Name {
			start = i
			break
		}
	}
	out := make([]string, 0, len(creds))
	for i := range creds {
		out = append(out, creds[(start+i)%len(creds)].Name)
	}
	return out
}

// Run drives b to completion and emits progress to sink. Failures of single
// copies are reported through events and the returned jobs; Run only fails
// when no credential is usable or ctx ends.
func (r *Runner) Run(ctx context.Context, b *Batch, sink domain.Sink) (Result, error) {
	if sink == nil {
		sink = domain.DiscardSink
	}
	x := &run{Runner: r, batch: b, sink: sink}
	sink.Emit(domain.Started{BatchID: b.ID, Jobs: len(b.Jobs), At: time.Now().UTC()})

	accounts := r.accounts()
	if len(accounts) == 0 {
		return x.fail(ctx, domain.ErrCredentialsMissing)
	}

	if err := x.submit(ctx, accounts); err != nil {
		return x.fail(ctx, err)
	}
	if r.exhausted(accounts) {
		return x.fail(ctx, fmt.Errorf("%w: every key of %d accounts was rejected", domain.ErrCredentialsExhausted, len(accounts)))
	}

	poll, err := poller.New(poller.Options{
		Checker:       r.deps.Remote,
		Rounds:        r.settings.PollRounds,
		Interval:      r.settings.PollInterval,
		MissingBudget: r.settings.MissingBudget,
		Sleep:         r.deps.Sleep,
		Logger:        r.logger,
		Metrics:       r.deps.Metrics,
		OnChange:      func(job *domain.Job, index int) { x.changed(ctx, job, index) },
	})
	if err != nil {
		return x.fail(ctx, err)
	}
	if err := poll.Run(ctx, b.Jobs); err != nil {
		return x.fail(ctx, err)
	}

	dl, err := r.downloader(ctx, x)
	if err != nil {
		return x.fail(ctx, err)
	}
	if err := dl.Run(ctx, b.Jobs); err != nil {
		return x.fail(ctx, err)
	}

	res := r.result(b)
	sink.Emit(domain.Completed{Paths: res.Paths})
	r.logger.Info().Str("batch_id", b.ID).Int("jobs", len(b.Jobs)).Int("downloaded", len(res.Paths)).Msg("batch: run complete")
	return res, nil
}

// RetryDownloads re-fetches every DOWNLOAD_FAILED copy of b.
func (r *Runner) RetryDownloads(ctx context.Context, b *Batch, sink domain.Sink) (Result, error) {
	if sink == nil {
		sink = domain.DiscardSink
	}
	x := &run{Runner: r, batch: b, sink: sink}
	dl, err := r.downloader(ctx, x)
	if err != nil {
		return x.fail(ctx, err)
	}
	n, err := dl.RetryDownloads(ctx, b.Jobs)
	if err != nil {
		return x.fail(ctx, err)
	}
	sink.Emit(domain.Log{Text: fmt.Sprintf("retried %d downloads", n)})
	res := r.result(b)
	sink.Emit(domain.Completed{Paths: res.Paths})
	return res, nil
}

func (r *Runner) downloader(ctx context.Context, x *run) (*downloader.Downloader, error) {
	return downloader.New(downloader.Options{
		Fetcher:     r.deps.Remote,
		Store:       r.deps.Store,
		Namer:       r.deps.Namer,
		Thumbnailer: r.deps.Thumbnailer,
		Attempts:    r.settings.DownloadAttempts,
		Backoff:     r.settings.DownloadBackoff,
		Sleep:       r.deps.Sleep,
		Logger:      r.logger,
		Metrics:     r.deps.Metrics,
		OnChange:    func(job *domain.Job, index int) { x.changed(ctx, job, index) },
	})
}

// submit dispatches every job and folds worker updates into the jobs.
func (x *run) submit(ctx context.Context, accounts []string) error {
	reqs := make([]video.SubmitRequest, len(x.batch.Jobs))
	for i, job := range x.batch.Jobs {
		reqs[i] = video.SubmitRequest{
			JobID:     job.ID,
			SceneID:   job.ID,
			AssetPath: job.AssetPath,
			MediaID:   job.MediaID,
			Prompt:    job.Prompt,
			Model:     job.Model,
			Aspect:    job.Aspect,
			Copies:    job.Copies,
		}
	}
	updates, err := x.sched.Dispatch(ctx, accounts, reqs)
	if err != nil {
		return err
	}
	total := len(x.batch.Jobs)
	for u := range updates {
		job := x.batch.Jobs[u.Index]
		if err := scheduler.Apply(job, u); err != nil {
			x.logger.Error().Err(err).Str("job_id", job.ID).Msg("batch: apply update failed")
			if u.Phase == scheduler.PhaseSubmitted {
				for _, c := range job.Items {
					if job.Fail(c.Index, domain.StatusFailedStart, domain.NewCopyError(u.Account, c.Index, err)) == nil {
						x.changed(ctx, job, c.Index)
					}
				}
			}
			continue
		}
		switch u.Phase {
		case scheduler.PhaseUploading:
			x.sink.Emit(domain.Progress{Scene: job.Scene, Total: total, Message: "uploading asset"})
		case scheduler.PhaseSubmitting:
			x.sink.Emit(domain.Progress{Scene: job.Scene, Total: total, Message: fmt.Sprintf("submitting via %s", u.Account)})
		case scheduler.PhaseSubmitted:
			accepted := u.Submission.Accepted()
			x.deps.Metrics.RecordSubmission(ctx, u.Account, accepted, job.Copies-accepted)
			x.sink.Emit(domain.Progress{
				Scene:   job.Scene,
				Total:   total,
				Message: fmt.Sprintf("%d/%d copies submitted via %s", accepted, job.Copies, u.Account),
			})
			if u.Err != nil {
				x.sink.Emit(domain.Error{Message: fmt.Sprintf("scene %d: %v", job.Scene, u.Err)})
			}
			for _, c := range job.Items {
				x.changed(ctx, job, c.Index)
			}
		}
	}
	return ctx.Err()
}

// changed emits the copy's card and records it once terminal.
func (x *run) changed(ctx context.Context, job *domain.Job, index int) {
	rec := domain.CardFor(job, index)
	x.sink.Emit(domain.Card{Record: rec})
	if !rec.Status.Terminal() {
		return
	}
	if rec.Status == domain.StatusFailedStart {
		x.deps.Metrics.RecordTerminal(ctx, string(rec.Status))
	}
	if x.deps.Recorder == nil {
		return
	}
	if err := x.deps.Recorder.RecordCopy(context.WithoutCancel(ctx), x.batch.ID, job, index); err != nil {
		x.logger.Warn().Err(err).Str("job_id", job.ID).Int("copy", index).Msg("batch: record copy failed")
	}
}

func (x *run) fail(ctx context.Context, err error) (Result, error) {
	x.sink.Emit(domain.Error{Message: err.Error()})
	x.logger.Error().Err(err).Str("batch_id", x.batch.ID).Msg("batch: run failed")
	return x.result(x.batch), err
}

// exhausted reports whether every key of every account was rejected.
func (r *Runner) exhausted(accounts []string) bool {
	for _, name := range accounts {
		if len(r.deps.Pool.Keys(name).Valid()) > 0 {
			return false
		}
	}
	return true
}

func (r *Runner) result(b *Batch) Result {
	res := Result{BatchID: b.ID, Counts: make(map[domain.Status]int)}
	for _, job := range b.Jobs {
		res.Paths = append(res.Paths, job.LocalPaths()...)
		for status, n := range job.Counts() {
			res.Counts[status] += n
		}
	}
	return res
}

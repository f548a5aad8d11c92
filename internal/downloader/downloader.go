package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/infra/credentials"
	"github.com/panora77956/v3-sub000/internal/storage"
)

const (
	DefaultAttempts = 5
	DefaultBackoff  = 2 * time.Second
)

// Fetcher streams an artifact with the owning account's token.
type Fetcher interface {
	Download(ctx context.Context, account, url string, w io.Writer) (int64, error)
}

// Options configures a Downloader.
type Options struct {
	Fetcher     Fetcher
	Store       *storage.FileStore
	Namer       Namer
	Thumbnailer Thumbnailer
	Attempts    int
	Backoff     time.Duration
	Sleep       func(context.Context, time.Duration) error
	Logger      *infra.Logger
	Metrics     *infra.Metrics
	OnChange    func(job *domain.Job, copyIndex int)
}

// Downloader moves READY copies to DOWNLOADED or DOWNLOAD_FAILED.
type Downloader struct {
	fetcher  Fetcher
	store    *storage.FileStore
	namer    Namer
	thumbs   Thumbnailer
	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
	logger   *infra.Logger
	metrics  *infra.Metrics
	onChange func(*domain.Job, int)
}

func New(opts Options) (*Downloader, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("downloader: fetcher is required")
	}
	if opts.Store == nil {
		return nil, errors.New("downloader: file store is required")
	}
	d := &Downloader{
		fetcher:  opts.Fetcher,
		store:    opts.Store,
		namer:    opts.Namer,
		thumbs:   opts.Thumbnailer,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		sleep:    opts.Sleep,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		onChange: opts.OnChange,
	}
	if d.namer == nil {
		d.namer = DefaultNamer
	}
	if d.attempts <= 0 {
		d.attempts = DefaultAttempts
	}
	if d.backoff <= 0 {
		d.backoff = DefaultBackoff
	}
	if d.sleep == nil {
		d.sleep = credentials.Sleep
	}
	if d.logger == nil {
		d.logger = infra.DiscardLogger()
	}
	if d.onChange == nil {
		d.onChange = func(*domain.Job, int) {}
	}
	return d, nil
}

// Run downloads every READY copy of jobs in job and copy order. It only
// returns early when ctx ends.
func (d *Downloader) Run(ctx context.Context, jobs []*domain.Job) error {
	for _, job := range jobs {
		for _, c := range job.Items {
			if c.Status != domain.StatusReady {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.Copy(ctx, job, c.Index); err != nil && errors.Is(err, ctx.Err()) {
				return err
			}
		}
	}
	return nil
}

// RetryDownloads moves DOWNLOAD_FAILED copies back to READY and downloads
// them again. Generation is not resubmitted.
func (d *Downloader) RetryDownloads(ctx context.Context, jobs []*domain.Job) (int, error) {
	requeued := 0
	for _, job := range jobs {
		for _, c := range job.Items {
			if c.Status != domain.StatusDownloadFailed {
				continue
			}
			if err := job.Requeue(c.Index); err != nil {
				d.logger.Warn().Err(err).Str("job_id", job.ID).Int("copy", c.Index).Msg("downloader: cannot requeue copy")
				continue
			}
			requeued++
			d.onChange(job, c.Index)
		}
	}
	if requeued == 0 {
		return 0, nil
	}
	return requeued, d.Run(ctx, jobs)
}

// Copy downloads copy index of job. The copy ends DOWNLOADED or
// DOWNLOAD_FAILED unless ctx ends first, in which case it is left READY.
func (d *Downloader) Copy(ctx context.Context, job *domain.Job, index int) error {
	c, err := job.Copy(index)
	if err != nil {
		return err
	}
	if c.Status != domain.StatusReady {
		return fmt.Errorf("downloader: copy %d of %s is %s", index, job.ID, c.Status)
	}
	account := c.Handle.Account
	if err := job.Transition(index, domain.StatusDownloading); err != nil {
		return err
	}
	d.onChange(job, index)

	key := d.namer(job, index)
	var last error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 {
			if err := d.sleep(ctx, time.Duration(attempt-1)*d.backoff); err != nil {
				d.release(job, index)
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			d.release(job, index)
			return err
		}
		c.DownloadAttempts++
		path, n, err := d.store.WriteStream(ctx, key, func(w io.Writer) (int64, error) {
			return d.fetcher.Download(ctx, account, c.ArtifactURL, w)
		})
		if err == nil {
			c.LocalPath = path
			_ = job.Transition(index, domain.StatusDownloaded)
			d.metrics.RecordDownload(ctx, account, n)
			d.metrics.RecordTerminal(ctx, string(domain.StatusDownloaded))
			d.logger.Info().Str("account", account).Str("job_id", job.ID).Int("copy", index).
				Int64("bytes", n).Str("path", path).Msg("downloader: saved artifact")
			d.thumbnail(ctx, job, index, key, path)
			d.onChange(job, index)
			return nil
		}
		if errors.Is(err, storage.ErrEmptyFile) {
			err = domain.ErrEmptyArtifact
		}
		last = err
		d.logger.Warn().Err(err).Str("account", account).Str("job_id", job.ID).Int("copy", index).
			Int("attempt", attempt).Msg("downloader: attempt failed")
	}

	cause := &domain.CopyError{Kind: domain.KindDownloadFailed, Account: account, Copy: index, Err: last}
	_ = job.Fail(index, domain.StatusDownloadFailed, cause)
	d.metrics.RecordDownloadFailure(ctx, account)
	d.metrics.RecordTerminal(ctx, string(domain.StatusDownloadFailed))
	d.onChange(job, index)
	return cause
}

// release hands an interrupted copy back to READY.
func (d *Downloader) release(job *domain.Job, index int) {
	if err := job.Transition(index, domain.StatusReady); err != nil {
		return
	}
	d.onChange(job, index)
}

func (d *Downloader) thumbnail(ctx context.Context, job *domain.Job, index int, key, videoPath string) {
	if d.thumbs == nil {
		return
	}
	out, err := d.store.Path(thumbnailKey(key))
	if err == nil {
		err = d.thumbs.Thumbnail(ctx, videoPath, out)
	}
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID).Int("copy", index).Msg("downloader: thumbnail skipped")
		return
	}
	job.Items[index-1].ThumbnailPath = out
}

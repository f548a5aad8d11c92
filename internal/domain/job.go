package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the lifecycle states of a single generated copy.
type Status string

const (
	StatusNew            Status = "NEW"
	StatusUploading      Status = "UPLOADING"
	StatusSubmitting     Status = "SUBMITTING"
	StatusPending        Status = "PENDING"
	StatusProcessing     Status = "PROCESSING"
	StatusReady          Status = "READY"
	StatusDownloading    Status = "DOWNLOADING"
	StatusDownloaded     Status = "DOWNLOADED"
	StatusFailed         Status = "FAILED"
	StatusFailedStart    Status = "FAILED_START"
	StatusDoneNoURL      Status = "DONE_NO_URL"
	StatusTimeout        Status = "TIMEOUT"
	StatusDownloadFailed Status = "DOWNLOAD_FAILED"
)

// Terminal reports whether no further transition may occur from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDownloaded, StatusFailed, StatusFailedStart, StatusDoneNoURL, StatusTimeout, StatusDownloadFailed:
		return true
	default:
		return false
	}
}

// Outstanding reports whether the copy still waits on the remote service.
func (s Status) Outstanding() bool {
	return s == StatusPending || s == StatusProcessing
}

// Handle is the opaque remote operation id of one in-flight copy, tagged
// with the credential that created it.
type Handle struct {
	Operation string
	Account   string
	Copy      int
	SceneID   string
	RawStatus string
}

// Valid reports whether the handle refers to a remote operation.
func (h Handle) Valid() bool {
	return strings.TrimSpace(h.Operation) != "" && h.Account != ""
}

// Copy is the per-copy state of a Job. Index is 1-based.
type Copy struct {
	Index            int
	Handle           Handle
	Status           Status
	ArtifactURL      string
	LocalPath        string
	ThumbnailPath    string
	MissingRounds    int
	DownloadAttempts int
	Err              *CopyError
	UpdatedAt        time.Time
}

// Job is one scene of a batch: an optional input asset, an opaque prompt
// payload and the copies generated for it.
type Job struct {
	ID        string
	Scene     int
	AssetPath string
	Prompt    string
	Copies    int
	Model     string
	Aspect    string
	Account   string
	MediaID   string
	Items     []Copy
	CreatedAt time.Time
}

var (
	ErrInvalidJob         = errors.New("invalid job")
	ErrTerminalCopy       = errors.New("copy already terminal")
	ErrCopyOutOfRange     = errors.New("copy index out of range")
	ErrTooManyHandles     = errors.New("more handles than desired copies")
	ErrCredentialsMissing = errors.New("no enabled credentials")
	ErrNotRequeueable     = errors.New("copy cannot be requeued")
)

// NewJob builds a Job with one NEW copy per desired copy.
func NewJob(id string, scene int, prompt string, copies int, model, aspect string) (*Job, error) {
	j := &Job{
		ID:        id,
		Scene:     scene,
		Prompt:    prompt,
		Copies:    copies,
		Model:     model,
		Aspect:    aspect,
		CreatedAt: time.Now().UTC(),
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	j.Reset()
	return j, nil
}

// Validate checks the caller-supplied fields.
func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidJob)
	}
	if j.Copies < 1 {
		return fmt.Errorf("%w: copies must be >= 1, got %d", ErrInvalidJob, j.Copies)
	}
	if strings.TrimSpace(j.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidJob)
	}
	return nil
}

// Reset discards any per-copy state and starts every copy at NEW.
func (j *Job) Reset() {
	j.Items = make([]Copy, j.Copies)
	for i := range j.Items {
		j.Items[i] = Copy{Index: i + 1, Status: StatusNew}
	}
}

// HasAsset reports whether the job is conditioned on an input asset.
func (j *Job) HasAsset() bool {
	return strings.TrimSpace(j.AssetPath) != ""
}

// Copy returns a pointer to copy index (1-based).
func (j *Job) Copy(index int) (*Copy, error) {
	if index < 1 || index > len(j.Items) {
		return nil, fmt.Errorf("%w: %d of %d", ErrCopyOutOfRange, index, len(j.Items))
	}
	return &j.Items[index-1], nil
}

// Transition moves a copy to status. Terminal copies are left untouched
// and ErrTerminalCopy is returned.
func (j *Job) Transition(index int, status Status) error {
	c, err := j.Copy(index)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return ErrTerminalCopy
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail moves a non-terminal copy to a failure status and records why.
func (j *Job) Fail(index int, status Status, cause *CopyError) error {
	if err := j.Transition(index, status); err != nil {
		return err
	}
	c := &j.Items[index-1]
	c.Err = cause
	return nil
}

// AttachHandles stores handles at index copy-1. Copies without a valid
// handle become FAILED_START with causes[copy] (or a generic cause); they
// are never left pending.
func (j *Job) AttachHandles(account string, handles []Handle, causes map[int]*CopyError) error {
	if len(handles) > j.Copies {
		return fmt.Errorf("%w: %d > %d", ErrTooManyHandles, len(handles), j.Copies)
	}
	j.Account = account
	for i := range j.Items {
		c := &j.Items[i]
		if c.Status.Terminal() {
			continue
		}
		var h Handle
		if i < len(handles) {
			h = handles[i]
			h.Copy = c.Index
			h.Account = account
		}
		if h.Valid() {
			c.Handle = h
			c.Status = StatusPending
			c.UpdatedAt = time.Now().UTC()
			continue
		}
		failure := causes[c.Index]
		if failure == nil {
			failure = &CopyError{Kind: KindUnknown, Account: account, Copy: c.Index, Err: errors.New("no operation handle returned")}
		}
		c.Handle = Handle{}
		c.Status = StatusFailedStart
		c.Err = failure
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Requeue moves a DOWNLOAD_FAILED copy back to READY so the artifact can
// be fetched again without resubmitting generation.
func (j *Job) Requeue(index int) error {
	c, err := j.Copy(index)
	if err != nil {
		return err
	}
	if c.Status != StatusDownloadFailed {
		return fmt.Errorf("%w: copy %d is %s", ErrNotRequeueable, index, c.Status)
	}
	if c.ArtifactURL == "" {
		return fmt.Errorf("%w: copy %d has no artifact url", ErrNotRequeueable, index)
	}
	c.Status = StatusReady
	c.Err = nil
	c.DownloadAttempts = 0
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Handles returns the valid handles of the job in copy order.
func (j *Job) Handles() []Handle {
	out := make([]Handle, 0, len(j.Items))
	for _, c := range j.Items {
		if c.Handle.Valid() {
			out = append(out, c.Handle)
		}
	}
	return out
}

// Terminal reports whether every copy reached a terminal status.
func (j *Job) Terminal() bool {
	for _, c := range j.Items {
		if !c.Status.Terminal() {
			return false
		}
	}
	return true
}

// LocalPaths returns the downloaded artifact paths in copy order.
func (j *Job) LocalPaths() []string {
	var out []string
	for _, c := range j.Items {
		if c.Status == StatusDownloaded && c.LocalPath != "" {
			out = append(out, c.LocalPath)
		}
	}
	return out
}

// Counts tallies copies per status.
func (j *Job) Counts() map[Status]int {
	counts := make(map[Status]int, len(j.Items))
	for _, c := range j.Items {
		counts[c.Status]++
	}
	return counts
}

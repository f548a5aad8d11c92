package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/infra/credentials"
)

// Settings is the immutable per-process run configuration.
type Settings struct {
	Provider         string
	DefaultModel     string
	DefaultAspect    string
	PollRounds       int
	PollInterval     time.Duration
	MissingBudget    int
	SubmitDelay      time.Duration
	DownloadAttempts int
	DownloadBackoff  time.Duration
}

// SettingsFromConfig copies the run knobs out of cfg.
func SettingsFromConfig(cfg *infra.Config) Settings {
	return Settings{
		Provider:         credentials.ProviderVideo,
		DefaultModel:     cfg.DefaultModel,
		DefaultAspect:    cfg.DefaultAspect,
		PollRounds:       cfg.PollRounds,
		PollInterval:     cfg.PollInterval,
		MissingBudget:    cfg.MissingBudget,
		SubmitDelay:      cfg.SubmitDelay,
		DownloadAttempts: cfg.DownloadAttempts,
		DownloadBackoff:  cfg.DownloadBackoff,
	}
}

// JobSpec is one scene of a batch request.
type JobSpec struct {
	Scene     int    `json:"scene"`
	Prompt    string `json:"prompt"`
	AssetPath string `json:"asset_path,omitempty"`
	Copies    int    `json:"copies"`
	Model     string `json:"model,omitempty"`
	Aspect    string `json:"aspect,omitempty"`
}

// Request describes a batch. ID is generated when empty.
type Request struct {
	ID   string    `json:"id,omitempty"`
	Jobs []JobSpec `json:"jobs"`
}

// Batch is a prepared request: the jobs the runner owns while it runs.
type Batch struct {
	ID        string
	Jobs      []*domain.Job
	CreatedAt time.Time
}

var ErrEmptyBatch = errors.New("batch: no jobs")

// Prepare validates req and builds one Job per JobSpec with settings defaults.
func Prepare(req Request, settings Settings) (*Batch, error) {
	if len(req.Jobs) == 0 {
		return nil, ErrEmptyBatch
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	b := &Batch{ID: id, Jobs: make([]*domain.Job, 0, len(req.Jobs)), CreatedAt: time.Now().UTC()}
	for i, js := range req.Jobs {
		model := firstNonEmpty(js.Model, settings.DefaultModel)
		aspect := firstNonEmpty(js.Aspect, settings.DefaultAspect, "16:9")
		copies := js.Copies
		if copies == 0 {
			copies = 1
		}
		scene := js.Scene
		if scene == 0 {
			scene = i + 1
		}
		job, err := domain.NewJob(uuid.NewString(), scene, js.Prompt, copies, model, aspect)
		if err != nil {
			return nil, fmt.Errorf("batch: job %d: %w", i, err)
		}
		job.AssetPath = strings.TrimSpace(js.AssetPath)
		b.Jobs = append(b.Jobs, job)
	}
	return b, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/infra/credentials"
	"github.com/panora77956/v3-sub000/internal/providers/genai"
)

// Transport is the wire capability set of the generation service.
// *genai.Client implements it.
type Transport interface {
	UploadAsset(ctx context.Context, token, scope, path, aspect string) (string, error)
	Generate(ctx context.Context, token, scope string, req genai.GenerateRequest) ([]genai.Operation, error)
	CheckStatus(ctx context.Context, token string, ops []genai.Operation) ([]genai.OperationStatus, error)
	Download(ctx context.Context, token, uri string, w io.Writer) (int64, error)
}

var _ Transport = (*genai.Client)(nil)

var (
	ErrUnknownAccount = errors.New("video: unknown account")
	ErrMixedAccounts  = errors.New("video: handles belong to different accounts")
	ErrNoTransport    = errors.New("video: transport is required")
)

// SubmitRequest is the immutable input of one submission.
type SubmitRequest struct {
	JobID     string
	SceneID   string
	AssetPath string
	MediaID   string
	Prompt    string
	Model     string
	Aspect    string
	Copies    int
}

// Submission is the outcome of Submit. Handles has one entry per copy at
// index copy-1; entries for copies that failed to start are zero.
type Submission struct {
	Handles []domain.Handle
	Model   string
	MediaID string
	Errors  map[int]*domain.CopyError
}

// Accepted counts copies that received a handle.
func (s Submission) Accepted() int {
	n := 0
	for _, h := range s.Handles {
		if h.Valid() {
			n++
		}
	}
	return n
}

// CheckResult is the normalized status of one operation.
type CheckResult struct {
	Status  genai.Normalized
	Raw     string
	URL     string
	Message string
}

// Options configures a Client.
type Options struct {
	Transport    Transport
	Pool         *credentials.Pool
	Ladders      Ladders
	UploadSettle time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	Shuffle      func([]string)
	Sleep        func(context.Context, time.Duration) error
	Logger       *infra.Logger
}

// Client runs every remote call under one account, rotating across that
// account's own tokens only.
type Client struct {
	transport Transport
	pool      *credentials.Pool
	ladders   Ladders
	settle    time.Duration
	base      time.Duration
	cap       time.Duration
	shuffle   func([]string)
	sleep     func(context.Context, time.Duration) error
	logger    *infra.Logger

	mu       sync.Mutex
	rotators map[string]*credentials.Rotator
}

// NewClient validates opts and applies defaults.
func NewClient(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	if opts.Pool == nil {
		return nil, errors.New("video: credential pool is required")
	}
	ladders := opts.Ladders
	if ladders == nil {
		ladders = DefaultLadders()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = credentials.Sleep
	}
	settle := opts.UploadSettle
	if settle < 0 {
		settle = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		transport: opts.Transport,
		pool:      opts.Pool,
		ladders:   ladders,
		settle:    settle,
		base:      opts.BackoffBase,
		cap:       opts.BackoffCap,
		shuffle:   opts.Shuffle,
		sleep:     sleep,
		logger:    logger,
		rotators:  make(map[string]*credentials.Rotator),
	}, nil
}

func (c *Client) account(name string) (credentials.Credential, *credentials.Rotator, error) {
	cred, ok := c.pool.Lookup(name)
	if !ok {
		return credentials.Credential{}, nil, fmt.Errorf("%w: %s", ErrUnknownAccount, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rot, ok := c.rotators[name]
	if !ok {
		rot = credentials.NewRotator(c.pool.Keys(name), credentials.RotatorOptions{
			Name:    name,
			Base:    c.base,
			Cap:     c.cap,
			Shuffle: c.shuffle,
			Sleep:   c.sleep,
			Logger:  c.logger,
		})
		c.rotators[name] = rot
	}
	return cred, rot, nil
}

// UploadAsset uploads path under account and waits for the server to
// index it before returning the media id.
func (c *Client) UploadAsset(ctx context.Context, account, path, aspect string) (string, error) {
	cred, rot, err := c.account(account)
	if err != nil {
		return "", err
	}
	var mediaID string
	err = rot.Do(ctx, func(ctx context.Context, key string) error {
		id, err := c.transport.UploadAsset(context.WithoutCancel(ctx), key, cred.ScopeID, path, aspect)
		if err != nil {
			return err
		}
		mediaID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("video: upload asset: %w", err)
	}
	if err := c.sleep(ctx, c.settle); err != nil {
		return "", err
	}
	return mediaID, nil
}

// Submit requests req.Copies copies under account. The batch request walks
// the model ladder; a rejected asset-backed request is retried once after
// re-uploading the asset. If the batch still fails every copy is submitted
// on its own. The returned Submission always holds one slot per copy; a
// non-nil error means the account's credentials were rejected or ctx ended.
func (c *Client) Submit(ctx context.Context, account string, req SubmitRequest) (Submission, error) {
	copies := req.Copies
	if copies < 1 {
		copies = 1
	}
	sub := Submission{
		Handles: make([]domain.Handle, copies),
		Model:   req.Model,
		MediaID: req.MediaID,
		Errors:  make(map[int]*domain.CopyError),
	}
	failRest := func(from int, err error) {
		for idx := from; idx <= copies; idx++ {
			if !sub.Handles[idx-1].Valid() && sub.Errors[idx] == nil {
				sub.Errors[idx] = domain.NewCopyError(account, idx, err)
			}
		}
	}

	if _, _, err := c.account(account); err != nil {
		failRest(1, err)
		return sub, err
	}
	hasAsset := strings.TrimSpace(req.AssetPath) != ""
	if hasAsset && sub.MediaID == "" {
		id, err := c.UploadAsset(ctx, account, req.AssetPath, req.Aspect)
		if err != nil {
			failRest(1, err)
			return sub, err
		}
		sub.MediaID = id
	}
	ladder := c.ladders.For(hasAsset, req.Aspect, req.Model)

	ops, model, err := c.walkLadder(ctx, account, ladder, req, sub.MediaID, copies, 1)
	if err != nil && hasAsset && domain.Classify(err) == domain.KindRequestInvalid {
		c.logger.Info().Err(err).Str("account", account).Str("job_id", req.JobID).Msg("video: request rejected, re-uploading asset")
		id, upErr := c.UploadAsset(ctx, account, req.AssetPath, req.Aspect)
		if upErr != nil {
			err = upErr
		} else {
			sub.MediaID = id
			ops, model, err = c.walkLadder(ctx, account, ladder, req, sub.MediaID, copies, 1)
		}
	}
	if err == nil {
		sub.Model = model
		for i, op := range ops {
			if i >= copies {
				break
			}
			sub.Handles[i] = domain.Handle{Operation: op.Name, Account: account, Copy: i + 1, SceneID: op.SceneID, RawStatus: op.Status}
		}
		if sub.Accepted() == copies {
			return sub, nil
		}
		c.logger.Warn().
			Str("account", account).
			Str("job_id", req.JobID).
			Int("requested", copies).
			Int("accepted", sub.Accepted()).
			Msg("video: batch returned fewer operations than copies")
	} else {
		switch domain.Classify(err) {
		case domain.KindAuthInvalid, domain.KindCanceled:
			failRest(1, err)
			return sub, err
		}
		c.logger.Warn().Err(err).Str("account", account).Str("job_id", req.JobID).Msg("video: batch submit failed, submitting copies one by one")
	}

	for idx := 1; idx <= copies; idx++ {
		if sub.Handles[idx-1].Valid() {
			continue
		}
		if err := ctx.Err(); err != nil {
			failRest(idx, err)
			return sub, err
		}
		one, model, err := c.walkLadder(ctx, account, ladder, req, sub.MediaID, 1, idx)
		if err != nil {
			sub.Errors[idx] = domain.NewCopyError(account, idx, err)
			if domain.Classify(err) == domain.KindAuthInvalid {
				failRest(idx+1, err)
				return sub, err
			}
			continue
		}
		if len(one) == 0 {
			sub.Errors[idx] = domain.NewCopyError(account, idx, errors.New("video: no operation returned"))
			continue
		}
		sub.Model = model
		sub.Handles[idx-1] = domain.Handle{Operation: one[0].Name, Account: account, Copy: idx, SceneID: one[0].SceneID, RawStatus: one[0].Status}
	}
	return sub, nil
}

// walkLadder tries each model in order and stops on the first success or
// on any failure other than an invalid request.
func (c *Client) walkLadder(ctx context.Context, account string, ladder []string, req SubmitRequest, mediaID string, copies, first int) ([]genai.Operation, string, error) {
	cred, rot, err := c.account(account)
	if err != nil {
		return nil, "", err
	}
	var lastErr error
	for _, model := range ladder {
		if err := ctx.Err(); err != nil {
			return nil, model, err
		}
		var ops []genai.Operation
		err := rot.Do(ctx, func(ctx context.Context, key string) error {
			out, err := c.transport.Generate(context.WithoutCancel(ctx), key, cred.ScopeID, genai.GenerateRequest{
				Model:     model,
				Aspect:    req.Aspect,
				Prompt:    req.Prompt,
				SceneID:   req.SceneID,
				MediaID:   mediaID,
				Copies:    copies,
				FirstCopy: first,
			})
			if err != nil {
				return err
			}
			ops = out
			return nil
		})
		if err == nil {
			return ops, model, nil
		}
		lastErr = err
		if domain.Classify(err) != domain.KindRequestInvalid {
			return nil, model, err
		}
		c.logger.Info().Err(err).Str("account", account).Str("model", model).Msg("video: model rejected request, trying next")
	}
	if lastErr == nil {
		lastErr = errors.New("video: no model to submit with")
	}
	return nil, "", lastErr
}

// BatchCheck asks for the status of handles in one request. Every handle
// must belong to account.
func (c *Client) BatchCheck(ctx context.Context, account string, handles []domain.Handle) (map[string]CheckResult, error) {
	if len(handles) == 0 {
		return map[string]CheckResult{}, nil
	}
	ops := make([]genai.Operation, 0, len(handles))
	for _, h := range handles {
		if h.Account != account {
			return nil, fmt.Errorf("%w: %s and %s", ErrMixedAccounts, account, h.Account)
		}
		ops = append(ops, genai.Operation{Name: h.Operation, SceneID: h.SceneID, Status: h.RawStatus})
	}
	_, rot, err := c.account(account)
	if err != nil {
		return nil, err
	}
	var statuses []genai.OperationStatus
	err = rot.Do(ctx, func(ctx context.Context, key string) error {
		out, err := c.transport.CheckStatus(context.WithoutCancel(ctx), key, ops)
		if err != nil {
			return err
		}
		statuses = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("video: batch check: %w", err)
	}
	results := make(map[string]CheckResult, len(statuses))
	for _, st := range statuses {
		norm, url := genai.Normalize(st)
		results[st.Name] = CheckResult{Status: norm, Raw: st.Status, URL: url, Message: st.ErrorMessage}
	}
	return results, nil
}

// Download streams uri into w with one of account's tokens, preferring the
// provider's due key when the account holds it. A rejected
// token is marked invalid so the next call uses another one; retrying is
// left to the caller because w may already hold partial data.
func (c *Client) Download(ctx context.Context, account, uri string, w io.Writer) (int64, error) {
	keys := c.pool.Keys(account)
	if keys == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	token := ""
	for i := 0; i < keys.Len(); i++ {
		if k := keys.Next(); !keys.Invalid(k) {
			token = k
			break
		}
	}
	if token == "" {
		return 0, &credentials.ExhaustedError{Name: account, NoKeys: true}
	}
	if cred, ok := c.pool.Lookup(account); ok {
		candidates := []string{token}
		for _, k := range keys.Valid() {
			if k != token {
				candidates = append(candidates, k)
			}
		}
		// the provider-wide rotation wins when this account holds its due key
		token = c.pool.Reordered(cred.Provider, candidates)[0]
	}
	n, err := c.transport.Download(context.WithoutCancel(ctx), token, uri, w)
	if err != nil && domain.Classify(err) == domain.KindAuthInvalid {
		keys.MarkInvalid(token)
	}
	return n, err
}

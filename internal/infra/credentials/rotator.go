package credentials

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/infra"
)

const (
	DefaultBackoffBase = 10 * time.Second
	DefaultBackoffCap  = 60 * time.Second
)

// RotatorOptions configures a Rotator. Zero values select the defaults,
// which are tuned to a ceiling of roughly 15 requests per minute.
type RotatorOptions struct {
	Name             string
	Base             time.Duration
	Cap              time.Duration
	RateLimitRetries int
	Shuffle          func([]string)
	Sleep            func(context.Context, time.Duration) error
	Logger           *infra.Logger
}

// Rotator runs a call against the keys of one KeyPool until one succeeds.
type Rotator struct {
	name             string
	pool             *KeyPool
	order            []string
	base             time.Duration
	cap              time.Duration
	rateLimitRetries int
	sleep            func(context.Context, time.Duration) error
	logger           *infra.Logger
}

// NewRotator shuffles the pool's keys once; every Do call walks them in
// that order.
func NewRotator(pool *KeyPool, opts RotatorOptions) *Rotator {
	order := pool.Keys()
	shuffle := opts.Shuffle
	if shuffle == nil {
		shuffle = func(keys []string) {
			rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		}
	}
	shuffle(order)

	base := opts.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	ceiling := opts.Cap
	if ceiling <= 0 {
		ceiling = DefaultBackoffCap
	}
	retries := opts.RateLimitRetries
	if retries <= 0 {
		retries = 1
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Rotator{
		name:             opts.Name,
		pool:             pool,
		order:            order,
		base:             base,
		cap:              ceiling,
		rateLimitRetries: retries,
		sleep:            sleep,
		logger:           logger,
	}
}

// Name returns the account or provider the rotator serves.
func (r *Rotator) Name() string {
	return r.name
}

// Backoff returns min(base*2^(i-1), cap) for attempt i >= 1 and 0 otherwise.
func Backoff(i int, base, ceiling time.Duration) time.Duration {
	if i <= 0 {
		return 0
	}
	d := base
	for n := 1; n < i; n++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do calls attempt with successive keys. Auth failures mark the key invalid
// for the rest of the run and are skipped without sleeping; rate limits put
// the key back at the end of the rotation; request errors and cancellation
// return immediately. When every key is spent Do returns *ExhaustedError.
func (r *Rotator) Do(ctx context.Context, attempt func(ctx context.Context, key string) error) error {
	queue := make([]string, 0, len(r.order))
	for _, key := range r.order {
		if !r.pool.Invalid(key) {
			queue = append(queue, key)
		}
	}
	exhausted := &ExhaustedError{Name: r.name}
	if len(queue) == 0 {
		exhausted.NoKeys = true
		return exhausted
	}

	requeued := make(map[string]int)
	var prevKind domain.ErrorKind
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := queue[0]
		queue = queue[1:]
		if r.pool.Invalid(key) {
			continue
		}
		if exhausted.Attempts > 0 && prevKind != domain.KindAuthInvalid {
			if err := r.sleep(ctx, Backoff(exhausted.Attempts, r.base, r.cap)); err != nil {
				return err
			}
		}
		exhausted.Attempts++
		err := attempt(ctx, key)
		if err == nil {
			return nil
		}
		exhausted.Last = err
		kind := domain.Classify(err)
		prevKind = kind
		switch kind {
		case domain.KindAuthInvalid:
			exhausted.AuthFailures++
			r.pool.MarkInvalid(key)
			r.logger.Warn().Err(err).Str("account", r.name).Str("key", Mask(key)).Msg("rotator: key rejected, skipping")
		case domain.KindRateLimited:
			exhausted.RateLimited++
			if requeued[key] < r.rateLimitRetries {
				requeued[key]++
				queue = append(queue, key)
			}
			r.logger.Info().Err(err).Str("account", r.name).Str("key", Mask(key)).Msg("rotator: rate limited")
		case domain.KindRequestInvalid, domain.KindCanceled:
			return err
		case domain.KindTransient, domain.KindNetwork, domain.KindTimeout:
			r.logger.Info().Err(err).Str("account", r.name).Str("key", Mask(key)).Msg("rotator: transient failure")
		default:
			r.logger.Warn().Err(err).Str("account", r.name).Str("key", Mask(key)).Msg("rotator: call failed")
		}
	}

	if exhausted.RateLimited == exhausted.Attempts {
		r.logger.Warn().
			Str("account", r.name).
			Int("attempts", exhausted.Attempts).
			Msg("rotator: every key is rate limited; requests exceed the upstream quota")
	}
	return exhausted
}

// ExhaustedError is returned once every key of a rotation failed.
type ExhaustedError struct {
	Name         string
	Attempts     int
	AuthFailures int
	RateLimited  int
	NoKeys       bool
	Last         error
}

func (e *ExhaustedError) Error() string {
	if e.NoKeys {
		return fmt.Sprintf("credentials: %s has no usable keys", e.Name)
	}
	return fmt.Sprintf("credentials: %s exhausted after %d attempts (auth=%d rate_limited=%d): %v",
		e.Name, e.Attempts, e.AuthFailures, e.RateLimited, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// ErrorKind reports AuthInvalid when every key was rejected, RateLimited
// when every attempt was throttled, and the last failure's kind otherwise.
func (e *ExhaustedError) ErrorKind() domain.ErrorKind {
	switch {
	case e.NoKeys || (e.Attempts > 0 && e.AuthFailures == e.Attempts):
		return domain.KindAuthInvalid
	case e.Attempts > 0 && e.RateLimited == e.Attempts:
		return domain.KindRateLimited
	case e.Last != nil:
		return domain.Classify(e.Last)
	default:
		return domain.KindUnknown
	}
}

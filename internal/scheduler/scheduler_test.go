package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/providers/video"
)

type stubSubmitter struct {
	mu     sync.Mutex
	calls  map[string][]string
	submit func(account string, req video.SubmitRequest) (video.Submission, error)
}

func (s *stubSubmitter) Submit(ctx context.Context, account string, req video.SubmitRequest) (video.Submission, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string][]string)
	}
	s.calls[account] = append(s.calls[account], req.JobID)
	s.mu.Unlock()
	if s.submit != nil {
		return s.submit(account, req)
	}
	return okSubmission(account, req), nil
}

func okSubmission(account string, req video.SubmitRequest) video.Submission {
	sub := video.Submission{Model: req.Model, Handles: make([]domain.Handle, req.Copies), Errors: map[int]*domain.CopyError{}}
	for i := range sub.Handles {
		sub.Handles[i] = domain.Handle{Operation: fmt.Sprintf("%s-op-%d", req.JobID, i+1), Account: account, Copy: i + 1}
	}
	return sub
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func collect(t *testing.T, ch <-chan Update) []Update {
	t.Helper()
	var out []Update
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, u)
		case <-timeout:
			t.Fatalf("update channel was not closed")
		}
	}
}

func TestPartitionRoundRobin(t *testing.T) {
	for m := 1; m <= 4; m++ {
		accounts := make([]string, m)
		for i := range accounts {
			accounts[i] = fmt.Sprintf("acct-%d", i)
		}
		buckets := Partition(10, accounts)
		seen := 0
		for account, idxs := range buckets {
			for _, idx := range idxs {
				require.Equal(t, accounts[idx%m], account)
				seen++
			}
		}
		require.Equal(t, 10, seen)
	}
	require.Empty(t, Partition(3, nil))
}

func TestPartitionOmitsIdleAccounts(t *testing.T) {
	buckets := Partition(1, []string{"a", "b", "c"})
	require.Equal(t, map[string][]int{"a": {0}}, buckets)
}

func TestDispatchTwoAccountsFourJobs(t *testing.T) {
	submitter := &stubSubmitter{}
	s, err := New(Options{Submitter: submitter, Sleep: noSleep})
	require.NoError(t, err)

	jobs := make([]*domain.Job, 4)
	reqs := make([]video.SubmitRequest, 4)
	for i := range jobs {
		j, err := domain.NewJob(fmt.Sprintf("job-%d", i), i+1, "prompt", 1, "veo_3_1_t2v_fast", "16:9")
		require.NoError(t, err)
		jobs[i] = j
		reqs[i] = video.SubmitRequest{JobID: j.ID, Prompt: j.Prompt, Model: j.Model, Copies: j.Copies}
	}

	ch, err := s.Dispatch(context.Background(), []string{"A", "B"}, reqs)
	require.NoError(t, err)
	for _, u := range collect(t, ch) {
		require.NoError(t, Apply(jobs[u.Index], u))
	}

	require.Equal(t, []string{"job-0", "job-2"}, submitter.calls["A"])
	require.Equal(t, []string{"job-1", "job-3"}, submitter.calls["B"])

	handles := 0
	for i, j := range jobs {
		want := []string{"A", "B"}[i%2]
		require.Equal(t, want, j.Account)
		for _, h := range j.Handles() {
			require.Equal(t, want, h.Account)
			handles++
		}
		require.Equal(t, domain.StatusPending, j.Items[0].Status)
	}
	require.Equal(t, 4, handles)
}

func TestWorkerFailureOnlyFailsCurrentJob(t *testing.T) {
	submitter := &stubSubmitter{submit: func(account string, req video.SubmitRequest) (video.Submission, error) {
		if req.JobID == "job-0" {
			panic("boom")
		}
		return okSubmission(account, req), nil
	}}
	s, err := New(Options{Submitter: submitter, Sleep: noSleep})
	require.NoError(t, err)

	jobs := []*domain.Job{}
	reqs := []video.SubmitRequest{}
	for i := 0; i < 3; i++ {
		j, _ := domain.NewJob(fmt.Sprintf("job-%d", i), i, "p", 2, "m", "16:9")
		jobs = append(jobs, j)
		reqs = append(reqs, video.SubmitRequest{JobID: j.ID, Prompt: "p", Copies: 2})
	}
	ch, err := s.Dispatch(context.Background(), []string{"solo"}, reqs)
	require.NoError(t, err)
	for _, u := range collect(t, ch) {
		require.NoError(t, Apply(jobs[u.Index], u))
	}

	for _, c := range jobs[0].Items {
		require.Equal(t, domain.StatusFailedStart, c.Status)
		require.NotNil(t, c.Err)
		require.Equal(t, "solo", c.Err.Account)
	}
	for _, j := range jobs[1:] {
		require.Len(t, j.Handles(), 2)
	}
}

func TestApplyPartialSubmission(t *testing.T) {
	job, err := domain.NewJob("j", 1, "p", 3, "m", "16:9")
	require.NoError(t, err)
	cause := &domain.CopyError{Kind: domain.KindRequestInvalid, Account: "A", Copy: 2, Err: errors.New("rejected")}
	sub := video.Submission{
		Model:   "fallback",
		Handles: []domain.Handle{{Operation: "op-1", Account: "A"}, {}, {Operation: "op-3", Account: "A"}},
		Errors:  map[int]*domain.CopyError{2: cause},
	}
	require.NoError(t, Apply(job, Update{Account: "A", Phase: PhaseSubmitted, Submission: sub}))

	require.Equal(t, "fallback", job.Model)
	require.Equal(t, domain.StatusPending, job.Items[0].Status)
	require.Equal(t, domain.StatusFailedStart, job.Items[1].Status)
	require.Same(t, cause, job.Items[1].Err)
	require.Equal(t, domain.StatusPending, job.Items[2].Status)
	require.LessOrEqual(t, len(job.Handles()), job.Copies)
}

func TestDispatchCanceledReportsRemainingJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	submitter := &stubSubmitter{}
	submitter.submit = func(account string, req video.SubmitRequest) (video.Submission, error) {
		cancel()
		return okSubmission(account, req), nil
	}
	s, err := New(Options{Submitter: submitter, Sleep: noSleep})
	require.NoError(t, err)

	reqs := []video.SubmitRequest{{JobID: "a", Copies: 1}, {JobID: "b", Copies: 1}, {JobID: "c", Copies: 1}}
	ch, err := s.Dispatch(ctx, []string{"solo"}, reqs)
	require.NoError(t, err)

	var submitted []int
	for _, u := range collect(t, ch) {
		if u.Phase != PhaseSubmitted {
			continue
		}
		submitted = append(submitted, u.Index)
		if u.Index > 0 {
			require.ErrorIs(t, u.Err, context.Canceled)
		}
	}
	sort.Ints(submitted)
	require.Equal(t, []int{0, 1, 2}, submitted)
	require.Equal(t, []string{"a"}, submitter.calls["solo"])
}

func TestDispatchWithoutAccounts(t *testing.T) {
	s, err := New(Options{Submitter: &stubSubmitter{}})
	require.NoError(t, err)
	_, err = s.Dispatch(context.Background(), nil, []video.SubmitRequest{{JobID: "a"}})
	require.ErrorIs(t, err, ErrNoAccounts)
}

func TestWorkerPacesSubmissions(t *testing.T) {
	var mu sync.Mutex
	var delays []time.Duration
	s, err := New(Options{
		Submitter:   &stubSubmitter{},
		SubmitDelay: 500 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	reqs := []video.SubmitRequest{{JobID: "a", Copies: 1}, {JobID: "b", Copies: 1}, {JobID: "c", Copies: 1}}
	ch, err := s.Dispatch(context.Background(), []string{"solo"}, reqs)
	require.NoError(t, err)
	collect(t, ch)
	require.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, delays)
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type codeErr int

func (e codeErr) Error() string   { return fmt.Sprintf("http %d", int(e)) }
func (e codeErr) HTTPStatus() int { return int(e) }

type kinded struct{}

func (kinded) Error() string        { return "kinded" }
func (kinded) ErrorKind() ErrorKind { return KindMissing }

func TestKindForStatus(t *testing.T) {
	cases := map[int]ErrorKind{
		401: KindAuthInvalid,
		403: KindAuthInvalid,
		429: KindRateLimited,
		400: KindRequestInvalid,
		404: KindRequestInvalid,
		408: KindTimeout,
		500: KindTransient,
		503: KindTransient,
		302: KindUnknown,
	}
	for code, want := range cases {
		require.Equal(t, want, KindForStatus(code), "status %d", code)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"canceled", fmt.Errorf("wrap: %w", context.Canceled), KindCanceled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"copy error", &CopyError{Kind: KindRateLimited}, KindRateLimited},
		{"kinded", fmt.Errorf("outer: %w", kinded{}), KindMissing},
		{"status", codeErr(401), KindAuthInvalid},
		{"text auth", errors.New("PERMISSION_DENIED for project"), KindAuthInvalid},
		{"text quota", errors.New("RESOURCE_EXHAUSTED: quota"), KindRateLimited},
		{"text invalid", errors.New("INVALID_ARGUMENT: prompt"), KindRequestInvalid},
		{"text transient", errors.New("503 service unavailable"), KindTransient},
		{"text network", errors.New("dial tcp: connection refused"), KindNetwork},
		{"unknown", errors.New("something odd"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestCopyErrorWraps(t *testing.T) {
	base := errors.New("boom")
	ce := NewCopyError("A", 2, base)
	require.ErrorIs(t, ce, base)
	require.Equal(t, KindUnknown, ce.Kind)
	require.Contains(t, ce.Error(), "account=A copy=2")
}

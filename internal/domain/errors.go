package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind is the normalized failure category used for retry decisions
// and caller-side messaging.
type ErrorKind string

const (
	KindAuthInvalid    ErrorKind = "auth_invalid"
	KindRateLimited    ErrorKind = "rate_limited"
	KindRequestInvalid ErrorKind = "request_invalid"
	KindTransient      ErrorKind = "transient"
	KindNetwork        ErrorKind = "network"
	KindTimeout        ErrorKind = "timeout"
	KindMissing        ErrorKind = "missing"
	KindDownloadFailed ErrorKind = "download_failed"
	KindCanceled       ErrorKind = "canceled"
	KindUnknown        ErrorKind = "unknown"
)

var (
	ErrCredentialsExhausted = errors.New("all credentials rejected")
	ErrNoArtifactURL        = errors.New("operation finished without artifact url")
	ErrEmptyArtifact        = errors.New("downloaded artifact is empty")
)

// CopyError ties a failure to the (credential, copy) it happened on.
type CopyError struct {
	Kind    ErrorKind
	Account string
	Copy    int
	Err     error
}

func (e *CopyError) Error() string {
	if e == nil {
		return ""
	}
	msg := "<nil>"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: account=%s copy=%d: %s", e.Kind, e.Account, e.Copy, msg)
}

func (e *CopyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCopyError classifies err and attaches the account and copy index.
func NewCopyError(account string, copyIndex int, err error) *CopyError {
	return &CopyError{Kind: Classify(err), Account: account, Copy: copyIndex, Err: err}
}

// HTTPStatusError is implemented by transport errors that know the HTTP
// status the provider answered with.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// KindedError is implemented by errors that already carry a kind.
type KindedError interface {
	error
	ErrorKind() ErrorKind
}

// Classify maps an error to an ErrorKind. Typed errors win over the error
// text; the text fallback covers providers that only surface a message.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ce *CopyError
	if errors.As(err, &ce) && ce.Kind != "" {
		return ce.Kind
	}
	var ke KindedError
	if errors.As(err, &ke) {
		return ke.ErrorKind()
	}
	var se HTTPStatusError
	if errors.As(err, &se) {
		if kind := KindForStatus(se.HTTPStatus()); kind != KindUnknown {
			return kind
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return classifyText(err.Error())
}

// KindForStatus maps an HTTP status code to an ErrorKind.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindAuthInvalid
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusBadRequest, code == http.StatusNotFound, code == http.StatusUnprocessableEntity:
		return KindRequestInvalid
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

func classifyText(text string) ErrorKind {
	msg := strings.ToLower(strings.TrimSpace(text))
	switch {
	case msg == "":
		return KindUnknown
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "403"), strings.Contains(msg, "forbidden"), strings.Contains(msg, "permission_denied"):
		return KindAuthInvalid
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate-limit"),
		strings.Contains(msg, "quota"), strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "400"), strings.Contains(msg, "invalid_argument"), strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "bad request"):
		return KindRequestInvalid
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"),
		strings.Contains(msg, "internal error"), strings.Contains(msg, "service unavailable"), strings.Contains(msg, "unavailable"):
		return KindTransient
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "eof"):
		return KindNetwork
	default:
		return KindUnknown
	}
}

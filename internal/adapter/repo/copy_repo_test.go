package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/sqlinline"
)

type stubExecutor struct {
	query string
	args  []any
	err   error
	rows  [][]any
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.query = query
	s.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return nil
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.query = query
	s.args = args
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{rows: s.rows}, nil
}

type stubRows struct {
	rows [][]any
	pos  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return r.rows[r.pos-1], nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

func TestRecordCopyBindsColumns(t *testing.T) {
	job, err := domain.NewJob("job-1", 2, "p", 2, "veo_3_1_t2v_fast", "16:9")
	require.NoError(t, err)
	require.NoError(t, job.AttachHandles("acct-a", []domain.Handle{{Operation: "op-1"}}, map[int]*domain.CopyError{
		2: {Kind: domain.KindRequestInvalid, Account: "acct-a", Copy: 2, Err: errors.New("rejected")},
	}))

	exec := &stubExecutor{}
	repo := NewCopyRepository(exec)
	require.NoError(t, repo.RecordCopy(context.Background(), "batch-1", job, 2))

	require.Equal(t, sqlinline.QUpsertGenerationCopy, exec.query)
	require.Len(t, exec.args, 13)
	require.Equal(t, "batch-1", exec.args[0])
	require.Equal(t, "job-1", exec.args[1])
	require.Equal(t, 2, exec.args[2])
	require.Equal(t, 2, exec.args[3])
	require.Equal(t, "acct-a", exec.args[4])
	require.Equal(t, string(domain.StatusFailedStart), exec.args[7])
	require.Equal(t, string(domain.KindRequestInvalid), exec.args[11])
	require.Contains(t, exec.args[12], "rejected")
}

func TestRecordCopyWrapsExecError(t *testing.T) {
	job, _ := domain.NewJob("job-1", 1, "p", 1, "m", "16:9")
	repo := NewCopyRepository(&stubExecutor{err: errors.New("db down")})
	err := repo.RecordCopy(context.Background(), "b", job, 1)
	require.ErrorContains(t, err, "db down")
	require.ErrorIs(t, repo.RecordCopy(context.Background(), "b", job, 5), domain.ErrCopyOutOfRange)
}

func TestListByStatus(t *testing.T) {
	exec := &stubExecutor{rows: [][]any{
		{"job-1", 1, 1, "acct-a", "m", "op-1", "DOWNLOAD_FAILED", "https://cdn/1.mp4", ""},
		{"job-2", 2, 1, "acct-b", "m", "op-2", "DOWNLOAD_FAILED", "https://cdn/2.mp4", ""},
	}}
	rows, err := NewCopyRepository(exec).ListByStatus(context.Background(), "batch-1", domain.StatusDownloadFailed)
	require.NoError(t, err)
	require.Equal(t, sqlinline.QSelectCopiesByStatus, exec.query)
	require.Equal(t, []any{"batch-1", "DOWNLOAD_FAILED"}, exec.args)
	require.Len(t, rows, 2)
	require.Equal(t, domain.StatusDownloadFailed, rows[1].Status)
	require.Equal(t, "acct-b", rows[1].Account)
}

package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/panora77956/v3-sub000/internal/sqlinline"
)

type stubExecutor struct {
	rows [][]any
	err  error
	exec struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return nil
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
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
		case *[]string:
			*d = v.([]string)
		case *bool:
			*d = v.(bool)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

func TestStoreList(t *testing.T) {
	store := NewStore(&stubExecutor{rows: [][]any{
		{"alpha", "video", []string{" k1 ", "k2", "k1"}, "proj-a", true},
		{"beta", "VIDEO", []string{"k3"}, "", false},
	}})
	creds, err := store.List(context.Background(), ProviderVideo)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(creds))
	}
	if got := creds[0].Tokens; len(got) != 2 || got[0] != "k1" || got[1] != "k2" {
		t.Fatalf("expected normalized tokens, got %v", got)
	}
	if creds[1].Provider != ProviderVideo || creds[1].Enabled {
		t.Fatalf("unexpected second account: %+v", creds[1])
	}
}

func TestStoreListRejectsEmptyTokens(t *testing.T) {
	store := NewStore(&stubExecutor{rows: [][]any{{"alpha", "video", []string{" "}, "", true}}})
	if _, err := store.List(context.Background(), ProviderVideo); !errors.Is(err, ErrMissingTokens) {
		t.Fatalf("expected ErrMissingTokens, got %v", err)
	}
}

func TestStoreListQueryError(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("boom")})
	if _, err := store.List(context.Background(), ProviderVideo); err == nil {
		t.Fatal("expected error")
	}
}

func TestStoreUpsert(t *testing.T) {
	stub := &stubExecutor{}
	store := NewStore(stub)
	err := store.Upsert(context.Background(), Credential{Name: " alpha ", Tokens: []string{"k1", " k1"}, Enabled: true})
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if stub.exec.query != sqlinline.QUpsertProviderAccount {
		t.Fatalf("unexpected query %q", stub.exec.query)
	}
	if len(stub.exec.args) != 5 {
		t.Fatalf("expected 5 args, got %d", len(stub.exec.args))
	}
	if stub.exec.args[0] != "alpha" || stub.exec.args[1] != ProviderVideo {
		t.Fatalf("unexpected args %v", stub.exec.args)
	}
	if tokens := stub.exec.args[2].([]string); len(tokens) != 1 {
		t.Fatalf("expected deduplicated tokens, got %v", tokens)
	}

	if err := store.Upsert(context.Background(), Credential{Name: "x"}); !errors.Is(err, ErrMissingTokens) {
		t.Fatalf("expected ErrMissingTokens, got %v", err)
	}
}

func TestStoreDisable(t *testing.T) {
	stub := &stubExecutor{}
	store := NewStore(stub)
	if err := store.Disable(context.Background(), "alpha"); err != nil {
		t.Fatalf("Disable error: %v", err)
	}
	if stub.exec.query != sqlinline.QDisableProviderAccount || stub.exec.args[0] != "alpha" {
		t.Fatalf("unexpected exec %q %v", stub.exec.query, stub.exec.args)
	}
	if err := store.Disable(context.Background(), ""); !errors.Is(err, ErrMissingName) {
		t.Fatalf("expected ErrMissingName, got %v", err)
	}
}

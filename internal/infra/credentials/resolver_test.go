package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"vidgen/internal/sqlinline"
)

type stubExecutor struct {
	token string
	err   error
	exec  struct {
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
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestResolveEnv(t *testing.T) {
	r := NewResolver(nil)
	r.lookupEnv = envOf(map[string]string{"KLING_API_KEY": " k-123 "})

	got, err := r.Resolve(context.Background(), "env:KLING_API_KEY")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got != "k-123" {
		t.Fatalf("Resolve = %q, want k-123", got)
	}
	if _, err := r.Resolve(context.Background(), "env:MISSING"); !errors.Is(err, ErrUnset) {
		t.Fatalf("missing env err = %v, want ErrUnset", err)
	}
	if got, err := r.Resolve(context.Background(), ""); err != nil || got != "" {
		t.Fatalf("empty ref = %q, %v", got, err)
	}
	if _, err := r.Resolve(context.Background(), "vault:x"); err == nil {
		t.Fatalf("expected unsupported reference error")
	}
}

func TestResolveDB(t *testing.T) {
	r := NewResolver(&stubExecutor{token: " abc123 "})
	got, err := r.Resolve(context.Background(), "db:runway")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got != "abc123" {
		t.Fatalf("Resolve = %q, want abc123", got)
	}

	noRows := NewResolver(&stubExecutor{err: pgx.ErrNoRows})
	if _, err := noRows.Resolve(context.Background(), "db:runway"); !errors.Is(err, ErrUnset) {
		t.Fatalf("no rows err = %v, want ErrUnset", err)
	}

	if _, err := NewResolver(nil).Resolve(context.Background(), "db:runway"); !errors.Is(err, ErrNoStore) {
		t.Fatalf("nil store err = %v, want ErrNoStore", err)
	}
}

func TestSetToken(t *testing.T) {
	stub := &stubExecutor{}
	r := NewResolver(stub)
	if err := r.SetToken(context.Background(), "pika", " tok ", nil); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if stub.exec.query != sqlinline.QUpsertProviderToken {
		t.Fatalf("unexpected query")
	}
	if stub.exec.args[0] != "pika" || stub.exec.args[1] != "tok" {
		t.Fatalf("args = %v", stub.exec.args)
	}
	if err := r.SetToken(context.Background(), "pika", "", nil); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestMigrate(t *testing.T) {
	stub := &stubExecutor{}
	if err := NewResolver(stub).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	if stub.exec.query != sqlinline.QCreateIntegrationTokens {
		t.Fatalf("unexpected query")
	}
	if err := NewResolver(nil).Migrate(context.Background()); !errors.Is(err, ErrNoStore) {
		t.Fatalf("nil store err = %v, want ErrNoStore", err)
	}
}

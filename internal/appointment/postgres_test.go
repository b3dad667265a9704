package appointment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return nil, errors.New("unexpected Query")
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func TestPostgresStore_GetMissingIsNilNil(t *testing.T) {
	t.Parallel()
	s := NewPostgresStore(&mockDB{})

	got, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil for missing appointment", got)
	}
}

func TestPostgresStore_CreateDuplicate(t *testing.T) {
	t.Parallel()
	s := NewPostgresStore(&mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				return &pgconn.PgError{Code: "23505"}
			}}
		},
	})

	err := s.Create(context.Background(), newTestAppointment("a1"))
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Create = %v, want already-exists error", err)
	}
}

func TestPostgresStore_UpdateFieldsSetClause(t *testing.T) {
	t.Parallel()

	var gotSQL string
	var gotArgs []any
	s := NewPostgresStore(&mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			gotSQL = sql
			gotArgs = args
			return &mockRow{scanFunc: func(dest ...any) error { return nil }}
		},
	})

	soap := "S: stable"
	summary := "Biscuit did great today."
	err := s.UpdateFields(context.Background(), "a1", Fields{
		SoapNote:      &soap,
		ClientSummary: &summary,
	})
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	for _, want := range []string{"soap_note = $2", "client_summary = $3", "updated_at = now()", "WHERE id = $1"} {
		if !strings.Contains(gotSQL, want) {
			t.Errorf("query %q missing %q", gotSQL, want)
		}
	}
	for _, absent := range []string{"transcription", "audio_path", "dental_chart", "status ="} {
		if strings.Contains(gotSQL, absent) {
			t.Errorf("query %q touches untargeted column %q", gotSQL, absent)
		}
	}
	if len(gotArgs) != 3 || gotArgs[0] != "a1" || gotArgs[1] != soap || gotArgs[2] != summary {
		t.Errorf("args = %v, want [a1 %q %q]", gotArgs, soap, summary)
	}
}

func TestPostgresStore_UpdateFieldsClearChart(t *testing.T) {
	t.Parallel()

	var gotSQL string
	s := NewPostgresStore(&mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			gotSQL = sql
			return &mockRow{scanFunc: func(dest ...any) error { return nil }}
		},
	})

	if err := s.UpdateFields(context.Background(), "a1", Fields{ClearChart: true}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if !strings.Contains(gotSQL, "dental_chart = NULL") {
		t.Errorf("query %q missing NULL chart assignment", gotSQL)
	}
}

func TestPostgresStore_UpdateFieldsMissing(t *testing.T) {
	t.Parallel()
	s := NewPostgresStore(&mockDB{})

	status := StatusCompleted
	err := s.UpdateFields(context.Background(), "nope", Fields{Status: &status})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateFields = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_UpdateFieldsEmptyIsNoop(t *testing.T) {
	t.Parallel()

	called := false
	s := NewPostgresStore(&mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			called = true
			return &mockRow{scanFunc: func(dest ...any) error { return nil }}
		},
	})

	if err := s.UpdateFields(context.Background(), "a1", Fields{}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if called {
		t.Error("empty update issued a query")
	}
}

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aborealis/ragclient/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "ragclient.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPassportLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	got, err := s.GetPassport(ctx)
	if err != nil {
		t.Fatalf("GetPassport on empty store: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no passport, got %+v", got)
	}

	first := &domain.Passport{ID: "4a7c9f2e-0d1b-4c55-9a0e-3f5b8d6c1e20", WSURL: "/chat/ws/1?token=a"}
	if err := s.SavePassport(ctx, first); err != nil {
		t.Fatalf("SavePassport failed: %v", err)
	}

	second := &domain.Passport{ID: "9b1e2d3c-4f5a-4b6c-8d7e-0f1a2b3c4d5e", WSURL: "/chat/ws/2?token=b"}
	if err := s.SavePassport(ctx, second); err != nil {
		t.Fatalf("SavePassport overwrite failed: %v", err)
	}

	got, err = s.GetPassport(ctx)
	if err != nil {
		t.Fatalf("GetPassport failed: %v", err)
	}
	if diff := cmp.Diff(second, got); diff != "" {
		t.Fatalf("passport mismatch (-want +got):\n%s", diff)
	}

	if err := s.DeletePassport(ctx); err != nil {
		t.Fatalf("DeletePassport failed: %v", err)
	}
	if err := s.DeletePassport(ctx); err != nil {
		t.Fatalf("DeletePassport on empty store: %v", err)
	}
	got, err = s.GetPassport(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected empty store after delete, got %+v, %v", got, err)
	}
}

func TestPassportSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragclient.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	want := &domain.Passport{ID: "4a7c9f2e-0d1b-4c55-9a0e-3f5b8d6c1e20", WSURL: "/chat/ws/1"}
	if err := s.SavePassport(ctx, want); err != nil {
		t.Fatalf("SavePassport failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetPassport(ctx)
	if err != nil {
		t.Fatalf("GetPassport failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("passport mismatch (-want +got):\n%s", diff)
	}
}

func TestSavePassportRejectsNil(t *testing.T) {
	s := newTestStore(t)
	if err := s.SavePassport(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil passport")
	}
}

func TestIsConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy message", errors.New("sqlite: step: SQLITE_BUSY"), true},
		{"locked message", fmt.Errorf("save passport: %w", errors.New("database is locked (5)")), true},
		{"other", errors.New("no such table: chat_passport"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConflict(tt.err); got != tt.want {
				t.Fatalf("isConflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	err := s.withRetry(context.Background(), "permanent write", func() error {
		calls++
		return errors.New("constraint failed")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one attempt and an error, got %d attempts, %v", calls, err)
	}
}

func TestWithRetryRetriesConflicts(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	err := s.withRetry(context.Background(), "busy write", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on the second attempt, got %d attempts, %v", calls, err)
	}
}

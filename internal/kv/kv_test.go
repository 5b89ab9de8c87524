package kv_test

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/headline-goat/growthgoat/internal/kv"
)

func TestMemory_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	v, err := s.Get(ctx, "a")
	if err != nil || v != "1" {
		t.Fatalf("got (%q, %v), want (\"1\", nil)", v, err)
	}

	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestMemory_Quota(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory(kv.WithQuota(10))

	if err := s.Set(ctx, "k", "12345"); err != nil {
		t.Fatalf("set within quota failed: %v", err)
	}
	if err := s.Set(ctx, "j", "123456789"); !errors.Is(err, kv.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	// Overwriting reuses the existing value's space.
	if err := s.Set(ctx, "k", "123456789"); err != nil {
		t.Fatalf("overwrite within quota failed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("got %d keys, want 1", s.Len())
	}
}

func TestScope_PrefixesKeys(t *testing.T) {
	ctx := context.Background()
	base := kv.NewMemory()

	profile := kv.ProfileScope(base, "user_abc")
	if err := profile.Set(ctx, "visits", "3"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	v, err := base.Get(ctx, "profile:user_abc:visits")
	if err != nil || v != "3" {
		t.Fatalf("got (%q, %v) from base store", v, err)
	}

	other := kv.ProfileScope(base, "user_xyz")
	if _, err := other.Get(ctx, "visits"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("scopes leaked: %v", err)
	}
}

func TestRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := kv.NewRepo[map[string]string](kv.NewMemory(), "variants")

	_, ok, err := repo.Load(ctx)
	if err != nil || ok {
		t.Fatalf("expected empty load, got ok=%v err=%v", ok, err)
	}

	if err := repo.Save(ctx, map[string]string{"hero-cta": "control"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := repo.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load failed: ok=%v err=%v", ok, err)
	}
	if got["hero-cta"] != "control" {
		t.Errorf("got %v", got)
	}
}

func TestRepo_CorruptValue(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory()
	s.Set(ctx, "shown", "not json")

	repo := kv.NewRepo[[]string](s, "shown")
	if _, _, err := repo.Load(ctx); err == nil {
		t.Error("expected decode error for corrupt value")
	}
}

func TestSQLite_Persists(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := kv.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Set(ctx, "profile:u1:variants", `{"hero-cta":"control"}`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.Set(ctx, "profile:u1:variants", `{"hero-cta":"variant-a"}`); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	s.Close()

	s, err = kv.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	v, err := s.Get(ctx, "profile:u1:variants")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if v != `{"hero-cta":"variant-a"}` {
		t.Errorf("got %s", v)
	}

	if err := s.Remove(ctx, "profile:u1:variants"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := s.Get(ctx, "profile:u1:variants"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if s.Dialect() != "sqlite" {
		t.Errorf("got dialect %s", s.Dialect())
	}
}

func TestPostgres_Queries(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, $3)")).
		WithArgs("offers:shown", `["summer"]`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv WHERE key = $1")).
		WithArgs("offers:shown").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`["summer"]`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv WHERE key = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kv WHERE key = $1")).
		WithArgs("offers:shown").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s, err := kv.NewPostgres(ctx, db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Set(ctx, "offers:shown", `["summer"]`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	v, err := s.Get(ctx, "offers:shown")
	if err != nil || v != `["summer"]` {
		t.Fatalf("got (%q, %v)", v, err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Remove(ctx, "offers:shown"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestList_MatchesPrefixOnly(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "list.db")
	sqlite, err := kv.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer sqlite.Close()

	stores := map[string]kv.Store{"memory": kv.NewMemory(), "sqlite": sqlite}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			for k, v := range map[string]string{
				"experiments:hero_cta:results:01A": "a",
				"experiments:hero_cta:results:01B": "b",
				"experiments:heroXcta:results:01C": "wildcard",
				"experiments:hero_cta:results":     "legacy",
			} {
				if err := s.Set(ctx, k, v); err != nil {
					t.Fatalf("set failed: %v", err)
				}
			}

			got, err := s.List(ctx, "experiments:hero_cta:results:")
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(got) != 2 || got["experiments:hero_cta:results:01A"] != "a" || got["experiments:hero_cta:results:01B"] != "b" {
				t.Errorf("got %v", got)
			}

			empty, err := s.List(ctx, "funnels:")
			if err != nil || len(empty) != 0 {
				t.Errorf("got (%v, %v), want no entries", empty, err)
			}
		})
	}
}

func TestScope_ListStripsPrefix(t *testing.T) {
	ctx := context.Background()
	base := kv.NewMemory()
	base.Set(ctx, "profile:u1:trigger:scroll", "1")
	base.Set(ctx, "profile:u1:variants", "{}")
	base.Set(ctx, "profile:u2:trigger:scroll", "2")

	got, err := kv.ProfileScope(base, "u1").List(ctx, "trigger:")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got["trigger:scroll"] != "1" {
		t.Errorf("got %v", got)
	}
}

func TestPostgres_List(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value FROM kv WHERE key LIKE $1")).
		WithArgs(`funnels:sign\_up:journeys:%`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("funnels:sign_up:journeys:u1|s1", `{"userId":"u1"}`))

	s, err := kv.NewPostgres(ctx, db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	got, err := s.List(ctx, "funnels:sign_up:journeys:")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if got["funnels:sign_up:journeys:u1|s1"] != `{"userId":"u1"}` {
		t.Errorf("got %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLite_ListIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "case.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	s.Set(ctx, "funnels:Signup:journeys:u1|s1", "upper")
	s.Set(ctx, "funnels:signup:journeys:u1|s1", "lower")

	got, err := s.List(ctx, "funnels:signup:")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got["funnels:signup:journeys:u1|s1"] != "lower" {
		t.Errorf("got %v", got)
	}
}

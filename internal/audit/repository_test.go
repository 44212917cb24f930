package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE control_audit (
    id          TEXT PRIMARY KEY,
    action      TEXT NOT NULL,
    value       TEXT,
    outcome     TEXT NOT NULL,
    reason      TEXT,
    remote_addr TEXT,
    request_id  TEXT,
    created_at  INTEGER NOT NULL
) STRICT`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	e := &Entry{Action: "reserve", Value: "30", Outcome: OutcomeQueued}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(e.ID) != len("ctl-")+8 || e.ID[:4] != "ctl-" {
		t.Errorf("ID = %q", e.ID)
	}
	if !e.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, fixed)
	}
}

func TestList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Action: "reserve", Value: "30", Outcome: OutcomeQueued, RemoteAddr: "10.0.0.2:5000"},
		{Action: "mode", Value: "backup", Outcome: OutcomeRejected, Reason: "Control Command Token Invalid"},
		{Action: "mode", Outcome: OutcomeRead},
	}
	for i := range entries {
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
		wantLen   int
	}{
		{name: "all newest first", filter: Filter{}, wantTotal: 3, wantFirst: entries[2].ID, wantLen: 3},
		{name: "by action", filter: Filter{Action: "mode"}, wantTotal: 2, wantFirst: entries[2].ID, wantLen: 2},
		{name: "by outcome", filter: Filter{Outcome: OutcomeQueued}, wantTotal: 1, wantFirst: entries[0].ID, wantLen: 1},
		{name: "paged", filter: Filter{Limit: 1, Offset: 1}, wantTotal: 3, wantFirst: entries[1].ID, wantLen: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if page.Total != tt.wantTotal || len(page.Entries) != tt.wantLen {
				t.Fatalf("total/len = %d/%d, want %d/%d", page.Total, len(page.Entries), tt.wantTotal, tt.wantLen)
			}
			if page.Entries[0].ID != tt.wantFirst {
				t.Errorf("first = %s, want %s", page.Entries[0].ID, tt.wantFirst)
			}
		})
	}

	page, _ := repo.List(ctx, Filter{Outcome: OutcomeRejected})
	got := page.Entries[0]
	if got.Reason != "Control Command Token Invalid" || got.RemoteAddr != "" || !got.CreatedAt.Equal(entries[1].CreatedAt) {
		t.Errorf("rejected entry = %+v", got)
	}
}

func TestList_LimitClamp(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	tests := []struct {
		in, want int
	}{
		{0, defaultLimit},
		{-5, defaultLimit},
		{500, maxLimit},
		{20, 20},
	}
	for _, tt := range tests {
		page, err := repo.List(context.Background(), Filter{Limit: tt.in, Offset: -1})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if page.Limit != tt.want || page.Offset != 0 {
			t.Errorf("Limit %d: page limit/offset = %d/%d, want %d/0", tt.in, page.Limit, page.Offset, tt.want)
		}
		if page.Entries == nil {
			t.Error("Entries should be an empty slice, not nil")
		}
	}
}

package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxace/ajax-sync-core/internal/ajax"
	"github.com/foxace/ajax-sync-core/internal/infrastructure/database"
	_ "github.com/foxace/ajax-sync-core/migrations" // register embedded schema
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRecordAndListNotifications(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	entries := []ajax.NotificationEvent{
		{HubID: "h1", Tag: "smokedetected", Severity: ajax.SeverityAlarm, OccurredAt: base},
		{HubID: "h1", Tag: "disarm", UserName: "Ada", Severity: ajax.SeverityInfo, OccurredAt: base.Add(time.Minute)},
		{HubID: "h2", Tag: "lowbattery", Severity: ajax.SeverityWarning, OccurredAt: base.Add(2 * time.Minute)},
	}
	for i := range entries {
		if err := repo.RecordNotification(ctx, &entries[i]); err != nil {
			t.Fatalf("RecordNotification() error = %v", err)
		}
		if entries[i].ID == "" {
			t.Fatal("RecordNotification did not assign an id")
		}
	}

	got, err := repo.ListNotifications(ctx, Filter{HubID: "h1"})
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if got.Total != 2 || len(got.Notifications) != 2 {
		t.Fatalf("total = %d, rows = %d, want 2/2", got.Total, len(got.Notifications))
	}
	// Newest first.
	if got.Notifications[0].Tag != "disarm" {
		t.Errorf("first tag = %s, want disarm", got.Notifications[0].Tag)
	}
	if got.Notifications[0].UserName != "Ada" {
		t.Errorf("user = %q, want Ada", got.Notifications[0].UserName)
	}

	bySeverity, err := repo.ListNotifications(ctx, Filter{Severity: ajax.SeverityAlarm})
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if bySeverity.Total != 1 || bySeverity.Notifications[0].Tag != "smokedetected" {
		t.Errorf("severity filter returned %+v, want the alarm entry", bySeverity.Notifications)
	}
}

func TestListNotificationsPagination(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		n := ajax.NotificationEvent{
			HubID:      "h1",
			Tag:        "motion",
			Severity:   ajax.SeverityInfo,
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.RecordNotification(ctx, &n); err != nil {
			t.Fatalf("RecordNotification() error = %v", err)
		}
	}

	page, err := repo.ListNotifications(ctx, Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if page.Total != 5 || len(page.Notifications) != 2 {
		t.Errorf("total = %d, rows = %d, want 5/2", page.Total, len(page.Notifications))
	}
}

func TestRecordAndListModeTransitions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	transitions := []ModeTransition{
		{HubID: "h1", From: ajax.ModeDisarmed, To: ajax.ModeArmed, Source: ajax.SourceStream, UserName: "Ada", OccurredAt: base},
		{HubID: "h1", From: ajax.ModeArmed, To: ajax.ModeDisarmed, Source: ajax.SourcePoll, OccurredAt: base.Add(time.Hour)},
	}
	for i := range transitions {
		if err := repo.RecordModeTransition(ctx, &transitions[i]); err != nil {
			t.Fatalf("RecordModeTransition() error = %v", err)
		}
	}

	got, err := repo.ListModeTransitions(ctx, "h1", 10)
	if err != nil {
		t.Fatalf("ListModeTransitions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].To != ajax.ModeDisarmed || got[1].To != ajax.ModeArmed {
		t.Errorf("order = %s,%s, want newest first", got[0].To, got[1].To)
	}
	if got[1].UserName != "Ada" {
		t.Errorf("user = %q, want Ada", got[1].UserName)
	}

	if other, _ := repo.ListModeTransitions(ctx, "h2", 10); len(other) != 0 {
		t.Errorf("h2 rows = %d, want 0", len(other))
	}
}

package repositories

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	shared.ConfigureDatabase(db, 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func record(name, contentID string, outcome models.Outcome, at time.Time) *models.TransferRecord {
	task := &models.Task{
		ID:               shared.GenerateID(),
		Name:             name,
		ContentID:        contentID,
		DeviceTaskID:     models.Ptr[int64](42),
		LengthTotal:      models.Ptr[int64](1024),
		TransferredTotal: models.Ptr[int64](1024),
	}
	return models.NewTransferRecord("", task, outcome, at)
}

func TestHistoryRepository(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Record", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))
		rec := record("game", "UP0000-CUSA00001_00-A", models.OutcomeCompleted, base)

		if err := repo.Record(rec); err != nil {
			t.Fatalf("failed to record transfer: %v", err)
		}
		if rec.ID == "" {
			t.Error("record ID should be set after insert")
		}

		got, err := repo.List(0)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 record, got %d", len(got))
		}

		r := got[0]
		if r.Name != "game" || r.Outcome != models.OutcomeCompleted || r.TaskID != rec.TaskID {
			t.Errorf("unexpected record %+v", r)
		}
		if r.DeviceTaskID == nil || *r.DeviceTaskID != 42 || r.LengthTotal == nil || *r.LengthTotal != 1024 {
			t.Errorf("optional fields not round tripped: %+v", r)
		}
		if !r.RecordedAt.Equal(base) {
			t.Errorf("expected recorded at %v, got %v", base, r.RecordedAt)
		}
	})

	t.Run("Nullable Fields", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))
		rec := models.NewTransferRecord("", &models.Task{Name: "bare"}, models.OutcomeRemoved, base)

		if err := repo.Record(rec); err != nil {
			t.Fatalf("failed to record transfer: %v", err)
		}

		got, _ := repo.List(10)
		if got[0].DeviceTaskID != nil || got[0].LengthTotal != nil || got[0].TransferredTotal != nil {
			t.Errorf("expected nil optional fields, got %+v", got[0])
		}
	})

	t.Run("List Order And Limit", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))
		for i, name := range []string{"a", "b", "c"} {
			if err := repo.Record(record(name, "", models.OutcomePurged, base.Add(time.Duration(i)*time.Minute))); err != nil {
				t.Fatalf("failed to record %s: %v", name, err)
			}
		}

		got, err := repo.List(2)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(got) != 2 || got[0].Name != "c" || got[1].Name != "b" {
			t.Errorf("expected newest first [c b], got %v", names(got))
		}
	})

	t.Run("ListByContentID", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))
		repo.Record(record("a", "CID-1", models.OutcomeCompleted, base))
		repo.Record(record("b", "CID-2", models.OutcomeCompleted, base))
		repo.Record(record("a2", "CID-1", models.OutcomeRemoved, base.Add(time.Hour)))

		got, err := repo.ListByContentID("CID-1")
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(got) != 2 || got[0].Name != "a2" {
			t.Errorf("expected [a2 a], got %v", names(got))
		}

		none, err := repo.ListByContentID("missing")
		if err != nil || len(none) != 0 {
			t.Errorf("expected no records, got %v, %v", none, err)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))

		err := repo.Record(&models.TransferRecord{Outcome: models.OutcomeCompleted})
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for missing name, got %v", err)
		}

		err = repo.Record(&models.TransferRecord{Name: "a", Outcome: "exploded"})
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for bad outcome, got %v", err)
		}
	})

	t.Run("Duplicate ID", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))
		rec := record("a", "", models.OutcomeCompleted, base)
		if err := repo.Record(rec); err != nil {
			t.Fatalf("failed to record: %v", err)
		}

		dup := record("b", "", models.OutcomeCompleted, base)
		dup.ID = rec.ID
		if err := repo.Record(dup); err == nil {
			t.Error("expected primary key violation")
		}
	})
}

func TestHistorySink(t *testing.T) {
	repo := NewHistoryRepository(setupTestDB(t))
	sink := NewHistorySink(repo, nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	updates := []tasks.Update{
		{Kind: tasks.TaskAdded, At: at, Task: &models.Task{Name: "added"}},
		{Kind: tasks.TaskChanged, At: at, Task: &models.Task{Name: "changed"}},
		{Kind: tasks.TaskCompleted, At: at, Task: &models.Task{Name: "done"}},
		{Kind: tasks.TaskPurged, At: at.Add(time.Second), Task: &models.Task{Name: "purged"}},
		{Kind: tasks.TaskRemoved, At: at.Add(2 * time.Second), Task: &models.Task{Name: "removed"}},
		{Kind: tasks.TaskRemoved, At: at},
	}
	for _, u := range updates {
		sink.Handle(u)
	}

	got, err := repo.List(0)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}

	want := map[string]models.Outcome{
		"removed": models.OutcomeRemoved,
		"purged":  models.OutcomePurged,
		"done":    models.OutcomeCompleted,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %v", len(want), names(got))
	}
	for _, r := range got {
		if want[r.Name] != r.Outcome {
			t.Errorf("%s: expected outcome %s, got %s", r.Name, want[r.Name], r.Outcome)
		}
	}
}

func names(recs []*models.TransferRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}

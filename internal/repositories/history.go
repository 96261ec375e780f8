package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

// DefaultHistoryLimit bounds [HistoryRepository.List] when no limit is given.
const DefaultHistoryLimit = 50

// HistoryRepository implements [models.HistoryRepository] on the transfers table.
type HistoryRepository struct {
	db *sql.DB
}

var _ models.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository creates a new HistoryRepository with the given database connection
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Record inserts rec, generating its ID when empty.
func (r *HistoryRepository) Record(rec *models.TransferRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("%w: transfer record has no name", shared.ErrInvalidInput)
	}
	switch rec.Outcome {
	case models.OutcomeCompleted, models.OutcomePurged, models.OutcomeRemoved:
	default:
		return fmt.Errorf("%w: unknown outcome %q", shared.ErrInvalidInput, rec.Outcome)
	}
	if rec.ID == "" {
		rec.ID = shared.GenerateID()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	query := `
		INSERT INTO transfers (id, task_id, name, content_id, outcome, device_task_id, length_total, transferred_total, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		rec.ID,
		rec.TaskID,
		rec.Name,
		rec.ContentID,
		string(rec.Outcome),
		nullInt64(rec.DeviceTaskID),
		nullInt64(rec.LengthTotal),
		nullInt64(rec.TransferredTotal),
		rec.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}

	return nil
}

// List returns up to limit records, newest first. A non-positive limit uses [DefaultHistoryLimit].
func (r *HistoryRepository) List(limit int) ([]*models.TransferRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
		SELECT id, task_id, name, content_id, outcome, device_task_id, length_total, transferred_total, recorded_at
		FROM transfers
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?
	`

	return r.query(query, limit)
}

// ListByContentID returns every record for one content id, newest first.
func (r *HistoryRepository) ListByContentID(contentID string) ([]*models.TransferRecord, error) {
	query := `
		SELECT id, task_id, name, content_id, outcome, device_task_id, length_total, transferred_total, recorded_at
		FROM transfers
		WHERE content_id = ?
		ORDER BY recorded_at DESC, rowid DESC
	`

	return r.query(query, contentID)
}

func (r *HistoryRepository) query(query string, args ...any) ([]*models.TransferRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var records []*models.TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

func scanTransfer(s scanner) (*models.TransferRecord, error) {
	var (
		rec         models.TransferRecord
		outcome     string
		deviceID    sql.NullInt64
		length      sql.NullInt64
		transferred sql.NullInt64
	)

	err := s.Scan(&rec.ID, &rec.TaskID, &rec.Name, &rec.ContentID, &outcome, &deviceID, &length, &transferred, &rec.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transfer not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transfer: %w", err)
	}

	rec.Outcome = models.Outcome(outcome)
	rec.DeviceTaskID = int64Ptr(deviceID)
	rec.LengthTotal = int64Ptr(length)
	rec.TransferredTotal = int64Ptr(transferred)
	return &rec, nil
}

// HistorySink records transfers as they leave the task table.
type HistorySink struct {
	repo   models.HistoryRepository
	logger *log.Logger
}

// NewHistorySink creates a sink writing to repo.
func NewHistorySink(repo models.HistoryRepository, logger *log.Logger) *HistorySink {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &HistorySink{repo: repo, logger: logger.With("component", "history")}
}

// Handle records completed, purged and removed tasks. Other updates are ignored.
func (s *HistorySink) Handle(u tasks.Update) {
	outcome, ok := outcomeFor(u.Kind)
	if !ok || u.Task == nil {
		return
	}

	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	rec := models.NewTransferRecord(shared.GenerateID(), u.Task, outcome, at)
	if err := s.repo.Record(rec); err != nil {
		s.logger.Error("failed to record transfer", "name", u.Task.Name, "outcome", outcome, "error", err)
		return
	}
	s.logger.Debug("transfer recorded", "name", u.Task.Name, "outcome", outcome)
}

func outcomeFor(k tasks.UpdateKind) (models.Outcome, bool) {
	switch k {
	case tasks.TaskCompleted:
		return models.OutcomeCompleted, true
	case tasks.TaskPurged:
		return models.OutcomePurged, true
	case tasks.TaskRemoved:
		return models.OutcomeRemoved, true
	default:
		return "", false
	}
}

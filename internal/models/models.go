// package models defines the data model shared by the package sender
package models

import (
	"time"
)

// Outcome classifies how a transfer left the task table.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // promoted to success by the sweep
	OutcomePurged    Outcome = "purged"    // grace window elapsed short of the full length
	OutcomeRemoved   Outcome = "removed"   // operator removal
)

// TransferRecord is one row of the transfer history.
type TransferRecord struct {
	ID               string    `json:"id"`
	TaskID           string    `json:"taskId"`
	Name             string    `json:"name"`
	ContentID        string    `json:"contentId,omitempty"`
	Outcome          Outcome   `json:"outcome"`
	DeviceTaskID     *int64    `json:"deviceTaskId,omitempty"`
	LengthTotal      *int64    `json:"lengthTotal,omitempty"`
	TransferredTotal *int64    `json:"transferredTotal,omitempty"`
	RecordedAt       time.Time `json:"recordedAt"`
}

// NewTransferRecord snapshots task as a history row.
func NewTransferRecord(id string, task *Task, outcome Outcome, at time.Time) *TransferRecord {
	return &TransferRecord{
		ID:               id,
		TaskID:           task.ID,
		Name:             task.Name,
		ContentID:        task.ContentID,
		Outcome:          outcome,
		DeviceTaskID:     clonePtr(task.DeviceTaskID),
		LengthTotal:      clonePtr(task.LengthTotal),
		TransferredTotal: clonePtr(task.TransferredTotal),
		RecordedAt:       at,
	}
}

// HistoryRepository defines storage for finished transfers.
type HistoryRepository interface {
	Record(rec *TransferRecord) error                     // Record appends one finished transfer
	List(limit int) ([]*TransferRecord, error)            // List returns the newest records first
	ListByContentID(id string) ([]*TransferRecord, error) // ListByContentID returns every record for one content id
}

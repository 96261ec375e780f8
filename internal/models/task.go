package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a package transfer.
type Status string

const (
	StatusPause   Status = "pause"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPause, StatusLoading, StatusSuccess, StatusError:
		return true
	}
	return false
}

// Task is the single record kept for one named package transfer.
//
// Pointer fields are unknown until the device or the package server reports them.
type Task struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Path             string     `json:"path"`
	ContentID        string     `json:"contentId,omitempty"`
	TitleID          string     `json:"titleId,omitempty"`
	Status           Status     `json:"status"`
	DeviceTaskID     *int64     `json:"taskId,omitempty"`
	LengthTotal      *int64     `json:"lengthTotal,omitempty"`
	TransferredTotal *int64     `json:"transferredTotal,omitempty"`
	RemainingSeconds *int64     `json:"restSec,omitempty"`
	Confirmed        bool       `json:"confirmed"`
	PendingRemovalAt *time.Time `json:"removeTime,omitempty"`
}

// Clone returns a deep copy so callers never share pointer fields with the registry.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.DeviceTaskID = clonePtr(t.DeviceTaskID)
	c.LengthTotal = clonePtr(t.LengthTotal)
	c.TransferredTotal = clonePtr(t.TransferredTotal)
	c.RemainingSeconds = clonePtr(t.RemainingSeconds)
	c.PendingRemovalAt = clonePtr(t.PendingRemovalAt)
	return &c
}

// Complete reports whether the transferred byte count equals the known length.
func (t *Task) Complete() bool {
	return t.LengthTotal != nil && t.TransferredTotal != nil && *t.TransferredTotal == *t.LengthTotal
}

// Progress returns the transferred fraction in [0, 1], or 0 when the length is unknown.
func (t *Task) Progress() float64 {
	if t.LengthTotal == nil || *t.LengthTotal <= 0 || t.TransferredTotal == nil {
		return 0
	}
	p := float64(*t.TransferredTotal) / float64(*t.LengthTotal)
	return min(max(p, 0), 1)
}

// Apply merges every set field of p into t. Last writer wins per field.
func (t *Task) Apply(p TaskPatch) {
	if p.Path != nil {
		t.Path = *p.Path
	}
	if p.ContentID != nil {
		t.ContentID = *p.ContentID
	}
	if p.TitleID != nil {
		t.TitleID = *p.TitleID
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.DeviceTaskID != nil {
		t.DeviceTaskID = Ptr(*p.DeviceTaskID)
	}
	if p.LengthTotal != nil {
		t.LengthTotal = Ptr(*p.LengthTotal)
	}
	if p.TransferredTotal != nil {
		t.TransferredTotal = Ptr(*p.TransferredTotal)
	}
	if p.RemainingSeconds != nil {
		t.RemainingSeconds = Ptr(*p.RemainingSeconds)
	}
	if p.Confirmed != nil {
		t.Confirmed = *p.Confirmed
	}
	if p.PendingRemovalAt != nil {
		t.PendingRemovalAt = Ptr(*p.PendingRemovalAt)
	}
	if p.ClearPendingRemoval {
		t.PendingRemovalAt = nil
	}
}

// TaskPatch is a partial update for [Task.Apply]; nil fields are left alone.
type TaskPatch struct {
	Path             *string
	ContentID        *string
	TitleID          *string
	Status           *Status
	DeviceTaskID     *int64
	LengthTotal      *int64
	TransferredTotal *int64
	RemainingSeconds *int64
	Confirmed        *bool
	PendingRemovalAt *time.Time

	ClearPendingRemoval bool
}

// PackageItem is one operator request to add or install a package file.
type PackageItem struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	TaskID *int64 `json:"taskId,omitempty"`
}

// Validate checks the fields every install needs.
func (p PackageItem) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("package name is required")
	}
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("package %q has no path", p.Name)
	}
	return nil
}

// Settings is the operator-editable device target.
type Settings struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return Ptr(*p)
}

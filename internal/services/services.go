// package services defines clients for the HTTP APIs the package sender talks to
//
// Console remote package installer
package services

import (
	"context"

	"github.com/desertthunder/pkgsend/internal/models"
)

// Device defines the device operations the orchestrator depends on. [DeviceClient] implements it.
type Device interface {
	// Install asks the device to download the package at urls for task.
	// The returned response carries the device task id on success.
	Install(ctx context.Context, urls []string, task *models.Task) Response

	// Status polls transfer progress for task.
	// Implementations may answer locally while the task's polls are suppressed.
	Status(ctx context.Context, task *models.Task) Response

	// Stop pauses the device task with the given id.
	Stop(ctx context.Context, id int64) Response

	// Remove unregisters the device task with the given id.
	Remove(ctx context.Context, id int64) Response

	// ClearRetry forgets status failures recorded for the named task.
	ClearRetry(name string)

	// Configured reports whether a device address is known.
	Configured() bool
}

var _ Device = (*DeviceClient)(nil)

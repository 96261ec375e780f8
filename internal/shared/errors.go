package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Device and transport errors
	ErrDeviceRequest      = fmt.Errorf("device request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrBridgeClosed       = fmt.Errorf("bridge connection closed")
	ErrTimeout            = fmt.Errorf("operation timed out")

	// Task registry errors
	ErrTaskExists    = fmt.Errorf("task exists")
	ErrTaskNotFound  = fmt.Errorf("task not found")
	ErrMissingTaskID = fmt.Errorf("taskId not found")

	// Package inspection errors
	ErrInvalidPackage = fmt.Errorf("invalid package file")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

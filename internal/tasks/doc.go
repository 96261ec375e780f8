// Package tasks owns the task table and reconciles operator commands with the device.
//
// # Registry
//
// [Registry] is the single source of truth for in-flight transfers: one record per unique
// name, kept in insertion order. Lookups use a [Key] built with [ByName], [ByID] or
// [ByDeviceTaskID]. Every mutation is serialized and emits an [Update] on an optional channel
// using select with default, so a slow subscriber never stalls the table.
//
// [Registry.Sweep] finalizes records whose pending removal time has passed: a record whose
// transferred total equals its length is promoted to success, anything else is purged.
//
// # Orchestrator
//
// [Orchestrator] implements the operator commands:
//
//  1. [Orchestrator.AddPackages] : Register packages, reading content ids from the files
//  2. [Orchestrator.Install] : Start or resume a device download of a package URL
//  3. [Orchestrator.Refresh] : Poll the device for progress behind the status [Gate]
//  4. [Orchestrator.Stop] : Pause a device task and clear its status backoff
//  5. [Orchestrator.Remove] : Drop a task without contacting the device
//
// Commands return a [Result] carrying operator [Notice] values and the resulting task state.
//
// # Status Polling
//
// The device becomes unresponsive under overlapping status requests. A single [Gate] guards
// every poll; a refresh that finds it held is dropped, not queued. [Orchestrator.Run] ticks the
// refresh (default 500ms) and the sweep (default 3s) until its context ends.
package tasks

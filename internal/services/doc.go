// Package services implements the client for the console's remote package installer API.
//
// # Device Protocol
//
// Every operation is a JSON POST to http://<host>:<port>/api/<endpoint> with a short timeout
// (2s by default). The device writes integers as bare hex literals (0x1A), which is not JSON;
// [Decode] rewrites them to decimal before parsing and yields a "cannot parse data" failure for
// anything that still is not a JSON object.
//
// Failures are values. An unreachable device, a timeout or an undecodable body all produce a
// [Response] with status "fail" so callers never branch on transport errors.
//
// # Install Fallback
//
// [DeviceClient.Install] resumes a known device task id first. A failed direct install of a
// package with a content id probes /find_task for each [SubType] (game, additional content,
// patch, license) and resumes the first task found.
//
// # Status Backoff
//
// [DeviceClient.Status] is gated by a [RetryLedger] keyed by task name. More than three
// consecutive failures suppress polls for that task for 40 seconds; during suppression the
// client answers "TimedOut" without contacting the device. The entry resets on the first call
// after the deadline, on success, and when a task is stopped.
//
// # Pacing
//
// Outbound requests share a golang.org/x/time/rate limiter configured by device.rate_limit.
package services

// Package models defines the entities shared by the package sender.
//
// The package contains two categories of types:
//
// 1. Live state: the in-memory task table and operator input
//   - [Task] : One record per named package transfer, with device and byte progress
//   - [TaskPatch] : Partial update merged into a [Task] by the registry
//   - [PackageItem] : Operator request naming a package file
//   - [Settings] : Device address edited by the operator
//
// 2. History: rows written once a transfer leaves the task table
//   - [TransferRecord] : Outcome of one transfer
//   - [HistoryRepository] : Storage interface implemented in the repositories package
//
// [Task] fields carry the JSON names used on the operator bridge.
package models

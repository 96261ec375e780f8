// Package ui implements the watch monitor using bubbletea's Elm architecture.
//
// The monitor shows the live task table in a bubbles table:
//  1. [TableView] : Browse tasks with their status, progress and device task id
//  2. [ConfirmRemoveView] : Confirm removing the selected task
//  3. [DisconnectedView] : Shown once the bridge connection ends
//
// The [Model] reads from a [Source], normally a bridge.Client. Broadcast frames are pulled one at a
// time by a command that re-arms itself, so the table follows the registry without polling.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, r, s, d, y/n, q) with contextual help
// displayed via charmbracelet/bubbles/help.
package ui

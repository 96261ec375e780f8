// Package repositories implements SQLite persistence for finished transfers.
//
// The live task table is never stored. [HistoryRepository] keeps an append-only audit trail of
// transfers that left it (completed by the sweep, purged short of their length, or removed by
// the operator), and [HistorySink] feeds it from registry updates.
//
// The schema lives in the embedded migrations of the shared package; open databases with
// shared.OpenDatabase so migrations run first.
package repositories

// Package store is deskrelay's durable layer: per-tenant "last fired"
// dedup markers, the orchestration run log, and the fetched-ticket
// result rows. Backed by SQLite (modernc.org/sqlite, no cgo) or an
// in-memory map for tests and throwaway runs.
package store

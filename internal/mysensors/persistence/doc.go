// Package persistence stores registry snapshots between runs.
//
// SQLiteStore keeps every gateway in the shared database using the embedded
// snapshot schema. JSONFileStore writes one file per gateway and replaces it
// atomically, so a crash mid-save leaves the previous snapshot intact.
//
// A missing snapshot is reported as ErrSnapshotNotFound; callers start from an
// empty registry in that case.
package persistence

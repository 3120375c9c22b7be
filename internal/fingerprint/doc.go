// Package fingerprint tracks which file contents have already been indexed
// and classifies a fresh file listing against that record.
//
// A Snapshot maps each indexed path to its content hash and the ordered chunk
// IDs that were produced from it. Classify compares a Snapshot with the files
// currently present in the repository and sorts every path into exactly one
// of four buckets:
//
//   - New: absent from the snapshot
//   - Changed: present with a different content hash
//   - Unchanged: present with an identical hash; never re-chunked or re-embedded
//   - Deleted: present in the snapshot but no longer listed
//
// The Store interface persists snapshots per repository. Files are written
// one at a time so that an interrupted index run leaves a consistent record of
// the files it finished; Commit marks a run as complete and makes the
// repository visible to queries.
package fingerprint

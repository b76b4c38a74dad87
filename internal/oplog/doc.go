// Package oplog keeps the append-only record of every read and write a
// node served. It is purely observational and never compacted.
package oplog

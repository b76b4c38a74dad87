package oplog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"catalogkv/internal/storage"
)

// OpType distinguishes reads from writes.
type OpType string

const (
	Read  OpType = "read"
	Write OpType = "write"
)

// Entry is one logged operation.
type Entry struct {
	ID   string
	Type OpType
	Key  string
	// Value is the written record; nil for reads.
	Value *storage.Record
	// Version is the version the operation observed or produced.
	Version   uint64
	Timestamp time.Time
	SessionID string
}

// Log is an append-only, thread-safe operation log.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

// New creates an empty log.
func New() *Log {
	return &Log{}
}

// Append adds e to the end of the log, assigning an ID if missing.
func (l *Log) Append(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Value != nil {
		v := e.Value.Copy()
		e.Value = &v
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return e
}

// Snapshot returns the entries in insertion order.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		if e.Value != nil {
			v := e.Value.Copy()
			e.Value = &v
		}
		out[i] = e
	}
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

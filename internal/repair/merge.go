package repair

import (
	"sort"

	"catalogkv/internal/storage"
)

// Supersedes reports whether incoming should replace local. A zero local
// record stands for an absent key (version 0, zero timestamp).
//
// Higher version wins. Equal versions fall back to the strictly later
// UpdatedAt, then to the strictly greater Origin. Identical envelopes never
// supersede each other, which makes a repeated merge a no-op.
func Supersedes(incoming, local storage.Record) bool {
	if incoming.Version != local.Version {
		return incoming.Version > local.Version
	}
	if !incoming.UpdatedAt.Equal(local.UpdatedAt) {
		return incoming.UpdatedAt.After(local.UpdatedAt)
	}
	return incoming.Origin > local.Origin
}

// Merger applies remote records to the local store.
type Merger struct {
	store storage.Store
}

// NewMerger creates a merger over store.
func NewMerger(store storage.Store) *Merger {
	return &Merger{store: store}
}

// Merge stores incoming under key if it supersedes the local record.
// Returns whether the local state changed.
func (m *Merger) Merge(key string, incoming storage.Record) bool {
	_, changed := m.store.Apply(key, func(local storage.Record, ok bool) (storage.Record, bool) {
		if !ok {
			local = storage.Record{}
		}
		if !Supersedes(incoming, local) {
			return storage.Record{}, false
		}
		return incoming, true
	})
	return changed
}

// MergeSnapshot merges every entry of snapshot in key order and returns
// the number of entries accepted.
func (m *Merger) MergeSnapshot(snapshot map[string]storage.Record) int {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := 0
	for _, k := range keys {
		if m.Merge(k, snapshot[k]) {
			merged++
		}
	}
	return merged
}

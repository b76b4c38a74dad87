package storage

import (
	"time"
)

// Product is the attribute schema of a catalog entry.
type Product struct {
	Name     string
	Stock    int64
	Price    float64
	Location string
	// Extra carries attributes outside the fixed schema.
	Extra map[string]string
}

// Record is a product together with its replication envelope.
type Record struct {
	Product
	// Version increments by one on every local write to the key.
	Version uint64
	// UpdatedAt is when the held value was produced. Only used to break
	// ties between records with the same version.
	UpdatedAt time.Time
	// Origin is the node that performed the write. Breaks ties between
	// records with identical version and timestamp.
	Origin string
}

// Copy returns a deep copy of the record.
func (r Record) Copy() Record {
	out := r
	if r.Extra != nil {
		out.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

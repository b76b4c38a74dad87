package node

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"

	"catalogkv/internal/oplog"
	"catalogkv/internal/storage"
)

// wireRecord is the JSON shape of a record on /api and in responses.
// last_updated (epoch seconds) is kept for older peers; updated_at is the
// exact timestamp and wins when both are present.
type wireRecord struct {
	Name        string            `json:"name"`
	Stock       int64             `json:"stock"`
	Price       float64           `json:"price"`
	Location    string            `json:"location"`
	Extra       map[string]string `json:"extra,omitempty"`
	LastUpdated float64           `json:"last_updated"`
	UpdatedAt   string            `json:"updated_at,omitempty"`
	Version     uint64            `json:"version"`
	Origin      string            `json:"origin,omitempty"`
}

func recordToWire(rec storage.Record) wireRecord {
	w := wireRecord{
		Name:     rec.Name,
		Stock:    rec.Stock,
		Price:    rec.Price,
		Location: rec.Location,
		Extra:    rec.Extra,
		Version:  rec.Version,
		Origin:   rec.Origin,
	}
	if !rec.UpdatedAt.IsZero() {
		w.LastUpdated = float64(rec.UpdatedAt.UnixNano()) / 1e9
		w.UpdatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return w
}

// wireToRecord decodes a peer record. A missing or zero version decodes as 1.
func wireToRecord(w wireRecord) (storage.Record, error) {
	rec := storage.Record{
		Product: storage.Product{
			Name:     w.Name,
			Stock:    w.Stock,
			Price:    w.Price,
			Location: w.Location,
			Extra:    w.Extra,
		},
		Version: max(w.Version, 1),
		Origin:  w.Origin,
	}
	switch {
	case w.UpdatedAt != "":
		ts, err := time.Parse(time.RFC3339Nano, w.UpdatedAt)
		if err != nil {
			return storage.Record{}, errors.Wrapf(err, "invalid updated_at %q", w.UpdatedAt)
		}
		rec.UpdatedAt = ts
	case w.LastUpdated > 0:
		sec, frac := math.Modf(w.LastUpdated)
		rec.UpdatedAt = time.Unix(int64(sec), int64(frac*1e9))
	}
	return rec, nil
}

func snapshotToWire(snap map[string]storage.Record) map[string]wireRecord {
	out := make(map[string]wireRecord, len(snap))
	for k, rec := range snap {
		out[k] = recordToWire(rec)
	}
	return out
}

func wireToSnapshot(in map[string]wireRecord) (map[string]storage.Record, error) {
	out := make(map[string]storage.Record, len(in))
	for k, w := range in {
		rec, err := wireToRecord(w)
		if err != nil {
			return nil, errors.Wrapf(err, "key %s", k)
		}
		out[k] = rec
	}
	return out, nil
}

// wireOp is the JSON shape of an operation log entry.
type wireOp struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Key       string      `json:"key"`
	Value     *wireRecord `json:"value"`
	Version   uint64      `json:"version"`
	Timestamp string      `json:"timestamp"`
	SessionID string      `json:"session_id"`
}

func opsToWire(entries []oplog.Entry) []wireOp {
	out := make([]wireOp, 0, len(entries))
	for _, e := range entries {
		op := wireOp{
			ID:        e.ID,
			Type:      string(e.Type),
			Key:       e.Key,
			Version:   e.Version,
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			SessionID: e.SessionID,
		}
		if e.Value != nil {
			w := recordToWire(*e.Value)
			op.Value = &w
		}
		out = append(out, op)
	}
	return out
}

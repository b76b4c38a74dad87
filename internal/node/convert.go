package node

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"catalogkv/internal/storage"
)

// recordToProto converts a record to a protobuf Struct.
func recordToProto(rec storage.Record) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"name":     structpb.NewStringValue(rec.Name),
		"stock":    structpb.NewNumberValue(float64(rec.Stock)),
		"price":    structpb.NewNumberValue(rec.Price),
		"location": structpb.NewStringValue(rec.Location),
		"version":  structpb.NewNumberValue(float64(rec.Version)),
		"origin":   structpb.NewStringValue(rec.Origin),
	}
	if !rec.UpdatedAt.IsZero() {
		fields["updated_at"] = structpb.NewStringValue(rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	if len(rec.Extra) > 0 {
		extra := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(rec.Extra))}
		for k, v := range rec.Extra {
			extra.Fields[k] = structpb.NewStringValue(v)
		}
		fields["extra"] = structpb.NewStructValue(extra)
	}
	return &structpb.Struct{Fields: fields}
}

// maxWireVersion is the largest version a float64 number carries exactly.
const maxWireVersion = 1 << 53

// protoToRecord converts a protobuf Struct back to a record. A missing or
// zero version decodes as 1, the same as ExportAll reports it.
func protoToRecord(pb *structpb.Struct) (storage.Record, error) {
	if pb == nil {
		return storage.Record{}, errors.New("nil record")
	}
	var rec storage.Record
	var err error

	if rec.Name, err = stringField(pb, "name"); err != nil {
		return storage.Record{}, err
	}
	if rec.Location, err = stringField(pb, "location"); err != nil {
		return storage.Record{}, err
	}
	if rec.Origin, err = stringField(pb, "origin"); err != nil {
		return storage.Record{}, err
	}
	stock, err := wholeField(pb, "stock", -(1 << 63), 1<<63)
	if err != nil {
		return storage.Record{}, err
	}
	rec.Stock = int64(stock)
	if rec.Price, err = numberField(pb, "price"); err != nil {
		return storage.Record{}, err
	}
	version, err := wholeField(pb, "version", 0, maxWireVersion+1)
	if err != nil {
		return storage.Record{}, err
	}
	rec.Version = max(uint64(version), 1)

	ts, err := stringField(pb, "updated_at")
	if err != nil {
		return storage.Record{}, err
	}
	if ts != "" {
		if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return storage.Record{}, errors.Wrapf(err, "invalid updated_at %q", ts)
		}
	}

	if v, ok := pb.Fields["extra"]; ok {
		extra := v.GetStructValue()
		if extra == nil {
			return storage.Record{}, errors.New("extra must be an object")
		}
		rec.Extra = make(map[string]string, len(extra.Fields))
		for k, ev := range extra.Fields {
			s, ok := ev.Kind.(*structpb.Value_StringValue)
			if !ok {
				return storage.Record{}, errors.Newf("extra %s must be a string", k)
			}
			rec.Extra[k] = s.StringValue
		}
	}
	return rec, nil
}

// snapshotToProto packs a whole replica snapshot into one Struct keyed by
// record key.
func snapshotToProto(snap map[string]storage.Record) *structpb.Struct {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(snap))}
	for k, rec := range snap {
		out.Fields[k] = structpb.NewStructValue(recordToProto(rec))
	}
	return out
}

// protoToSnapshot unpacks a snapshot produced by snapshotToProto.
func protoToSnapshot(pb *structpb.Struct) (map[string]storage.Record, error) {
	out := make(map[string]storage.Record, len(pb.GetFields()))
	for k, v := range pb.GetFields() {
		rec, err := protoToRecord(v.GetStructValue())
		if err != nil {
			return nil, errors.Wrapf(err, "key %s", k)
		}
		out[k] = rec
	}
	return out, nil
}

func stringField(pb *structpb.Struct, name string) (string, error) {
	v, ok := pb.Fields[name]
	if !ok {
		return "", nil
	}
	s, ok := v.Kind.(*structpb.Value_StringValue)
	if !ok {
		return "", errors.Newf("field %s must be a string", name)
	}
	return s.StringValue, nil
}

func numberField(pb *structpb.Struct, name string) (float64, error) {
	v, ok := pb.Fields[name]
	if !ok {
		return 0, nil
	}
	n, ok := v.Kind.(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.Newf("field %s must be a number", name)
	}
	return n.NumberValue, nil
}

// wholeField reads an integral number in [lo, hi). NaN, infinities and
// fractions are errors.
func wholeField(pb *structpb.Struct, name string, lo, hi float64) (float64, error) {
	v, err := numberField(pb, name)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, errors.Newf("field %s must be a whole number, got %v", name, v)
	}
	if v < lo || v >= hi {
		return 0, errors.Newf("field %s out of range: %v", name, v)
	}
	return v, nil
}

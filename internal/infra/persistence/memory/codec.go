package memory

import (
	"encoding/json"
	"fmt"

	"slate/pkg/domain"
)

// EncodeBucket serializes one entity bucket as a JSON object keyed by identity.
func EncodeBucket(bucket map[domain.ID]domain.Record) ([]byte, error) {
	if bucket == nil {
		bucket = map[domain.ID]domain.Record{}
	}
	data, err := json.Marshal(bucket)
	if err != nil {
		return nil, fmt.Errorf("encode bucket: %w", err)
	}
	return data, nil
}

// DecodeBucket parses a payload produced by EncodeBucket. Attribute values
// come back in their JSON form; the store normalizes them on load.
func DecodeBucket(entity string, payload []byte) (map[domain.ID]domain.Record, error) {
	bucket := make(map[domain.ID]domain.Record)
	if len(payload) == 0 {
		return bucket, nil
	}
	if err := json.Unmarshal(payload, &bucket); err != nil {
		return nil, fmt.Errorf("decode %s: %w", entity, err)
	}
	for id, rec := range bucket {
		rec.ID, rec.Entity = id, entity
		bucket[id] = rec
	}
	return bucket, nil
}

// EncodeRecord serializes a single record.
func EncodeRecord(rec domain.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s(%s): %w", rec.Entity, rec.ID, err)
	}
	return data, nil
}

// DecodeRecord parses a payload produced by EncodeRecord.
func DecodeRecord(payload []byte) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return domain.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

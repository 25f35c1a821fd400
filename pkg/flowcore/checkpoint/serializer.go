package checkpoint

import (
	"encoding/json"
	"fmt"
)

// Serializer converts checkpoints and metadata to bytes for savers that
// persist outside the process.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer encodes with encoding/json. Channel values come back as
// generic JSON values; typed channels coerce them on restore.
type JSONSerializer struct{}

// Marshal implements Serializer.
func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Serializer.
func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// encodeSaved serializes the checkpoint and metadata of one record.
func encodeSaved(ser Serializer, cp *Checkpoint, md Metadata) (cpBlob, mdBlob []byte, err error) {
	cpBlob, err = ser.Marshal(cp)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize checkpoint: %w", err)
	}
	mdBlob, err = ser.Marshal(md)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize metadata: %w", err)
	}
	return cpBlob, mdBlob, nil
}

// decodeSaved rebuilds a Saved from its stored columns.
func decodeSaved(ser Serializer, threadID, threadTS, parentTS string, cpBlob, mdBlob []byte) (*Saved, error) {
	var cp Checkpoint
	if err := ser.Unmarshal(cpBlob, &cp); err != nil {
		return nil, fmt.Errorf("deserialize checkpoint %s: %w", threadTS, err)
	}
	var md Metadata
	if err := ser.Unmarshal(mdBlob, &md); err != nil {
		return nil, fmt.Errorf("deserialize metadata %s: %w", threadTS, err)
	}
	saved := &Saved{
		Config:     Config{ThreadID: threadID, ThreadTS: threadTS},
		Checkpoint: cp.Copy(),
		Metadata:   md,
	}
	if parentTS != "" {
		saved.ParentConfig = &Config{ThreadID: threadID, ThreadTS: parentTS}
	}
	return saved, nil
}
